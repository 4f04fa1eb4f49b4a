package config

import (
	"testing"
	"time"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10, cfg.MinSamples)
	assert.Equal(t, BackendFile, cfg.StoreBackend)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 5, cfg.DatasetHistory)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"EQUIPML_ADDR":            ":9090",
		"EQUIPML_STORE":           "redis",
		"EQUIPML_REDIS_ADDR":      "redis:6379",
		"EQUIPML_REDIS_DB":        "3",
		"EQUIPML_TRAIN_TIMEOUT":   "30s",
		"EQUIPML_MIN_SAMPLES":     " 20 ",
		"EQUIPML_LOG_PRETTY":      "true",
		"EQUIPML_RETRAIN_CRON":    "0 3 * * *",
		"EQUIPML_ALLOWED_ORIGINS": "http://a.example, http://b.example",
		"EQUIPML_DB_DRIVER":       "postgres",
		"EQUIPML_LOG_LEVEL":       "",
		"EQUIPML_DATASET_HISTORY": "8",
		"EQUIPML_TREE_CANDIDATE":  "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.TrainTimeout)
	assert.Equal(t, 20, cfg.MinSamples)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, "0 3 * * *", cfg.RetrainCron)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "info", cfg.LogLevel, "empty value keeps the default")
	assert.Equal(t, 8, cfg.DatasetHistory)
	assert.True(t, cfg.TreeCandidate)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		param string
	}{
		{"bad int", map[string]string{"EQUIPML_MIN_SAMPLES": "ten"}, "EQUIPML_MIN_SAMPLES"},
		{"bad duration", map[string]string{"EQUIPML_TRAIN_TIMEOUT": "soon"}, "EQUIPML_TRAIN_TIMEOUT"},
		{"bad bool", map[string]string{"EQUIPML_S3_SECURE": "maybe"}, "EQUIPML_S3_SECURE"},
		{"unknown backend", map[string]string{"EQUIPML_STORE": "ftp"}, "EQUIPML_STORE"},
		{"s3 without endpoint", map[string]string{"EQUIPML_STORE": "s3"}, "EQUIPML_S3_ENDPOINT"},
		{"unknown driver", map[string]string{"EQUIPML_DB_DRIVER": "mysql"}, "EQUIPML_DB_DRIVER"},
		{"min samples too small", map[string]string{"EQUIPML_MIN_SAMPLES": "1"}, "EQUIPML_MIN_SAMPLES"},
		{"empty dataset history", map[string]string{"EQUIPML_DATASET_HISTORY": "0"}, "EQUIPML_DATASET_HISTORY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(env(tt.env))
			require.Error(t, err)
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.param, ve.ParamName)
		})
	}
}
