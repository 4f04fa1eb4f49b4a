// Command equipml は設備パラメータモデルの学習・推論サーバーと再学習コマンドを提供する
//
//	equipml serve              HTTP API を起動する（既定）
//	equipml retrain            全ユーザーのモデルを1回再学習する
//	equipml upload -user 1 f.csv   CSV を取り込んで学習する
//
// 設定は EQUIPML_* 環境変数から読み込む（internal/config を参照）。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/YuminosukeSato/equipml/dataset"
	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/internal/config"
	"github.com/YuminosukeSato/equipml/internal/history"
	"github.com/YuminosukeSato/equipml/internal/server"
	"github.com/YuminosukeSato/equipml/internal/service"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/YuminosukeSato/equipml/store"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "equipml:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Setup(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	switch cmd {
	case "serve":
		return app.serve(ctx)
	case "retrain":
		report, err := app.trainer.RetrainAll(ctx, app.ledger)
		if err != nil {
			return err
		}
		fmt.Printf("users=%d trained=%d skipped=%d failed=%d\n", report.Users, report.Trained, report.Skipped, report.Failed)
		return nil
	case "upload":
		return app.upload(ctx, args)
	default:
		return errors.Newf("unknown command %q", cmd)
	}
}

type app struct {
	cfg       config.Config
	ledger    *history.Ledger
	trainer   *service.Trainer
	predictor *service.Predictor
	uploader  *service.Uploader
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	bundles, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db, err := history.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	ledger, err := history.NewLedger(db)
	if err != nil {
		return nil, err
	}

	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	trainer := service.NewTrainer(bundles, ledger, metrics, service.TrainerConfig{
		Timeout:    cfg.TrainTimeout,
		MinSamples: cfg.MinSamples,
		Options: []equipment.Option{
			equipment.WithSeed(cfg.Seed),
			equipment.WithEstimators(cfg.NEstimators),
			equipment.WithDecisionTree(cfg.TreeCandidate),
		},
	})
	return &app{
		cfg:       cfg,
		ledger:    ledger,
		trainer:   trainer,
		predictor: service.NewPredictor(store.NewCachedLoader(bundles), ledger, metrics),
		uploader:  service.NewUploader(ledger, trainer, cfg.DatasetHistory),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.BundleStore, error) {
	switch cfg.StoreBackend {
	case config.BackendS3:
		s, err := store.NewS3Store(store.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Secure:    cfg.S3Secure,
		})
		if err != nil {
			return nil, err
		}
		return s, s.EnsureBucket(ctx)
	case config.BackendRedis:
		client, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(client, cfg.RedisPrefix, 0), nil
	default:
		return store.NewFileStore(cfg.ModelDir), nil
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := log.GetLoggerWithName("main")

	if a.cfg.RetrainCron != "" {
		sched, err := service.NewScheduler(a.cfg.RetrainCron, a.trainer, a.ledger)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr: a.cfg.Addr,
		Handler: server.New(server.Deps{
			Trainer:        a.trainer,
			Predictor:      a.predictor,
			Uploader:       a.uploader,
			Records:        a.ledger,
			Runs:           a.ledger,
			Datasets:       a.ledger,
			HistoryLimit:   a.cfg.DatasetHistory,
			AllowedOrigins: a.cfg.AllowedOrigins,
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", a.cfg.Addr, "store", a.cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (a *app) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user <= 0 || fs.NArg() != 1 {
		return errors.New("usage: equipml upload -user <id> <file.csv>")
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := dataset.ReadCSV(f)
	if err != nil {
		return err
	}
	res, err := a.uploader.Upload(ctx, *user, filepath.Base(path), records)
	if err != nil {
		return err
	}
	fmt.Printf("dataset=%s rows=%d trained=%v\n", res.Dataset.ID, res.Summary.Count, res.MLTrained)
	if res.MLError != "" {
		fmt.Printf("training error: %s\n", res.MLError)
	}
	return nil
}
