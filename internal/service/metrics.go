package service

import "github.com/prometheus/client_golang/prometheus"

// 予測の種類（equipml_predictions_total の kind ラベル）
const (
	KindParameters = "parameters"
	KindType       = "type"
	KindImportance = "importance"
)

// Metrics はサービスの Prometheus メトリクス
type Metrics struct {
	TrainingRuns     *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	Predictions      *prometheus.CounterVec
}

// NewMetrics はメトリクスを作成して reg に登録する。reg が nil なら登録しない
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equipml_training_runs_total",
			Help: "Number of training runs by status.",
		}, []string{"status"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "equipml_training_duration_seconds",
			Help:    "Duration of completed training runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equipml_predictions_total",
			Help: "Number of served predictions by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.TrainingRuns, m.TrainingDuration, m.Predictions)
	}
	return m
}
