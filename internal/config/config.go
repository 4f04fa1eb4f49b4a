// Package config は環境変数（EQUIPML_*）からサービスの設定を読み込む
package config

import (
	"os"
	"strings"
	"time"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/spf13/cast"
)

// EnvPrefix は環境変数名の接頭辞
const EnvPrefix = "EQUIPML_"

// 保存先バックエンド
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendRedis = "redis"
)

// Config はサービス全体の設定
type Config struct {
	Addr      string
	LogLevel  string
	LogPretty bool

	StoreBackend string
	ModelDir     string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Prefix    string
	S3Secure    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	DBDriver string
	DBDSN    string

	TrainTimeout time.Duration
	MinSamples   int
	Seed         uint64
	NEstimators  int
	// TreeCandidate は単一の回帰木を回帰候補に加える
	TreeCandidate  bool
	RetrainCron    string
	AllowedOrigins []string

	// DatasetHistory はユーザーごとに残すデータセット数。古いものはアップロード時に削除する
	DatasetHistory int
}

// Default は既定値の設定を返す
func Default() Config {
	return Config{
		Addr:           ":8080",
		LogLevel:       "info",
		StoreBackend:   BackendFile,
		ModelDir:       "media/ml_models",
		S3Bucket:       "equipml",
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "equipml:",
		DBDriver:       "sqlite",
		DBDSN:          "equipml.db",
		TrainTimeout:   5 * time.Minute,
		MinSamples:     10,
		Seed:           42,
		NEstimators:    100,
		AllowedOrigins: []string{"*"},
		DatasetHistory: 5,
	}
}

// Load はプロセスの環境変数から設定を読み込む
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom は lookup で得た値で既定値を上書きする
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	l := loader{lookup: lookup}

	l.str("ADDR", &cfg.Addr)
	l.str("LOG_LEVEL", &cfg.LogLevel)
	l.boolean("LOG_PRETTY", &cfg.LogPretty)

	l.str("STORE", &cfg.StoreBackend)
	l.str("MODEL_DIR", &cfg.ModelDir)

	l.str("S3_ENDPOINT", &cfg.S3Endpoint)
	l.str("S3_ACCESS_KEY", &cfg.S3AccessKey)
	l.str("S3_SECRET_KEY", &cfg.S3SecretKey)
	l.str("S3_BUCKET", &cfg.S3Bucket)
	l.str("S3_PREFIX", &cfg.S3Prefix)
	l.boolean("S3_SECURE", &cfg.S3Secure)

	l.str("REDIS_ADDR", &cfg.RedisAddr)
	l.str("REDIS_PASSWORD", &cfg.RedisPassword)
	l.integer("REDIS_DB", &cfg.RedisDB)
	l.str("REDIS_PREFIX", &cfg.RedisPrefix)

	l.str("DB_DRIVER", &cfg.DBDriver)
	l.str("DB_DSN", &cfg.DBDSN)

	l.duration("TRAIN_TIMEOUT", &cfg.TrainTimeout)
	l.integer("MIN_SAMPLES", &cfg.MinSamples)
	l.uint64("SEED", &cfg.Seed)
	l.integer("ESTIMATORS", &cfg.NEstimators)
	l.boolean("TREE_CANDIDATE", &cfg.TreeCandidate)
	l.str("RETRAIN_CRON", &cfg.RetrainCron)
	l.list("ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	l.integer("DATASET_HISTORY", &cfg.DatasetHistory)

	if l.err != nil {
		return Config{}, l.err
	}
	return cfg, cfg.Validate()
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendFile:
		if c.ModelDir == "" {
			return errors.NewValidationError(EnvPrefix+"MODEL_DIR", "must not be empty", c.ModelDir)
		}
	case BackendS3:
		if c.S3Endpoint == "" {
			return errors.NewValidationError(EnvPrefix+"S3_ENDPOINT", "required for s3 store", c.S3Endpoint)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.NewValidationError(EnvPrefix+"REDIS_ADDR", "required for redis store", c.RedisAddr)
		}
	default:
		return errors.NewValidationError(EnvPrefix+"STORE", "must be one of file, s3, redis", c.StoreBackend)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return errors.NewValidationError(EnvPrefix+"DB_DRIVER", "must be sqlite or postgres", c.DBDriver)
	}
	if c.MinSamples < 2 {
		return errors.NewValidationError(EnvPrefix+"MIN_SAMPLES", "must be at least 2", c.MinSamples)
	}
	if c.NEstimators < 1 {
		return errors.NewValidationError(EnvPrefix+"ESTIMATORS", "must be positive", c.NEstimators)
	}
	if c.DatasetHistory < 1 {
		return errors.NewValidationError(EnvPrefix+"DATASET_HISTORY", "must be positive", c.DatasetHistory)
	}
	if c.TrainTimeout <= 0 {
		return errors.NewValidationError(EnvPrefix+"TRAIN_TIMEOUT", "must be positive", c.TrainTimeout)
	}
	return nil
}

// loader は最初の変換エラーを保持する
type loader struct {
	lookup func(string) (string, bool)
	err    error
}

func (l *loader) get(name string) (string, bool) {
	v, ok := l.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l *loader) fail(name, v string, err error) {
	if l.err == nil {
		l.err = errors.NewValidationError(EnvPrefix+name, err.Error(), v)
	}
}

func (l *loader) str(name string, dst *string) {
	if v, ok := l.get(name); ok {
		*dst = v
	}
}

func (l *loader) boolean(name string, dst *bool) {
	if v, ok := l.get(name); ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (l *loader) integer(name string, dst *int) {
	if v, ok := l.get(name); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (l *loader) uint64(name string, dst *uint64) {
	if v, ok := l.get(name); ok {
		n, err := cast.ToUint64E(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (l *loader) duration(name string, dst *time.Duration) {
	if v, ok := l.get(name); ok {
		d, err := cast.ToDurationE(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (l *loader) list(name string, dst *[]string) {
	if v, ok := l.get(name); ok {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}
