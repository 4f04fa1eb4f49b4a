// Package server は学習・推論サービスを JSON の HTTP API として公開する
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/YuminosukeSato/equipml/internal/history"
	"github.com/YuminosukeSato/equipml/internal/service"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunLister は学習実行の履歴を返す
type RunLister interface {
	Runs(ctx context.Context, userID int64, limit int) ([]history.TrainingRun, error)
}

// DatasetBrowser はアップロード済みデータセットの参照と削除
type DatasetBrowser interface {
	RecentDatasets(ctx context.Context, userID int64, limit int) ([]history.Dataset, error)
	Dataset(ctx context.Context, userID int64, id string) (*history.Dataset, error)
	DeleteDataset(ctx context.Context, userID int64, id string) error
}

// Deps はハンドラが使うサービス
type Deps struct {
	Trainer   *service.Trainer
	Predictor *service.Predictor
	Uploader  *service.Uploader
	Records   service.RecordSource
	Runs      RunLister
	Datasets  DatasetBrowser

	// HistoryLimit は GET /datasets の既定件数
	HistoryLimit int

	// Metrics は /metrics のハンドラ。nil なら既定のレジストリを公開する
	Metrics        http.Handler
	AllowedOrigins []string
}

// Server は HTTP ハンドラ一式
type Server struct {
	deps   Deps
	logger log.Logger
}

// New は Server を作る
func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = service.DefaultDatasetHistory
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	return &Server{deps: deps, logger: log.GetLoggerWithName("server")}
}

// Routes はルーティング済みのハンドラを返す
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.deps.Metrics)

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/datasets", s.uploadDataset)
		r.Get("/datasets", s.listDatasets)
		r.Get("/datasets/{datasetID}", s.getDataset)
		r.Delete("/datasets/{datasetID}", s.deleteDataset)
		r.Post("/train", s.train)
		r.Post("/predict", s.predict)
		r.Post("/predict-type", s.predictType)
		r.Get("/predictions", s.predictAll)
		r.Get("/feature-importance", s.featureImportance)
		r.Get("/runs", s.runs)
	})
	return r
}

// requestLogger はリクエストごとに1行ログを出す
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	})
}
