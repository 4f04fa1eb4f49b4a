// Package service はユーザー単位の学習・推論・定期再学習をまとめる
package service

import (
	"context"
	"time"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/internal/history"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/YuminosukeSato/equipml/store"
)

// RecordSource は再学習対象のユーザーとそのレコードを提供する
type RecordSource interface {
	Users(ctx context.Context) ([]int64, error)
	Records(ctx context.Context, userID int64) ([]equipment.Record, error)
}

// MetricsWriter は学習メトリクスをデータセットに書き戻す
type MetricsWriter interface {
	UpdateMetrics(ctx context.Context, userID int64, metrics map[string]any) error
}

// RunRecorder は学習実行を記録する
type RunRecorder interface {
	RecordRun(ctx context.Context, run *history.TrainingRun) error
}

// TrainerConfig は Trainer の設定
type TrainerConfig struct {
	// Timeout は1回の学習の上限時間
	Timeout time.Duration
	// MinSamples は学習に必要な生レコード数
	MinSamples int
	// Options は equipment.Train にそのまま渡す
	Options []equipment.Option
}

// Trainer はユーザーごとのバンドルを学習して保存する
type Trainer struct {
	store   store.BundleStore
	locks   *store.KeyedLocker
	runs    RunRecorder
	metrics *Metrics
	cfg     TrainerConfig
	logger  log.Logger
}

// NewTrainer は Trainer を作る。runs と metrics は nil でもよい
func NewTrainer(st store.BundleStore, runs RunRecorder, metrics *Metrics, cfg TrainerConfig) *Trainer {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = equipment.DefaultMinSamples
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Trainer{
		store:   st,
		locks:   store.NewKeyedLocker(),
		runs:    runs,
		metrics: metrics,
		cfg:     cfg,
		logger:  log.GetLoggerWithName("service.trainer"),
	}
}

type trainResult struct {
	bundle  *equipment.Bundle
	metrics equipment.CombinedMetrics
	err     error
}

// TrainUser はレコードからユーザーのバンドルを学習し、成功した場合のみ保存する
//
// レコード数が MinSamples 未満なら InsufficientDataError。同じユーザーの学習は直列化する。
// タイムアウトした場合は結果を待たずにエラーを返し、既存のバンドルはそのまま残る。
func (t *Trainer) TrainUser(ctx context.Context, userID int64, records []equipment.Record) (equipment.CombinedMetrics, error) {
	key := store.UserKey(userID)
	logger := t.logger.With(log.UserIDKey, userID, log.BundleKey, key)
	run := &history.TrainingRun{
		UserID:    userID,
		BundleKey: key,
		Samples:   len(records),
		StartedAt: time.Now().UTC(),
	}

	if len(records) < t.cfg.MinSamples {
		err := errors.NewInsufficientDataError("TrainUser", t.cfg.MinSamples, len(records))
		t.finish(ctx, run, history.StatusSkipped, err, nil)
		logger.Info("training skipped", log.SamplesKey, len(records))
		return equipment.CombinedMetrics{}, err
	}

	unlock := t.locks.Lock(key)
	defer unlock()

	tctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	opts := append(append([]equipment.Option(nil), t.cfg.Options...), equipment.WithMinSamples(t.cfg.MinSamples))
	done := make(chan trainResult, 1)
	go func() {
		b, cm, err := equipment.Train(records, opts...)
		done <- trainResult{bundle: b, metrics: cm, err: err}
	}()

	var res trainResult
	select {
	case <-tctx.Done():
		err := errors.Wrapf(tctx.Err(), "training for user %d did not finish", userID)
		t.finish(ctx, run, history.StatusTimeout, err, nil)
		logger.Error("training timed out", err)
		return equipment.CombinedMetrics{}, err
	case res = <-done:
	}

	if res.err != nil {
		t.finish(ctx, run, history.StatusFailed, res.err, nil)
		logger.Error("training failed", res.err)
		return equipment.CombinedMetrics{}, res.err
	}
	if err := t.store.Save(tctx, key, res.bundle); err != nil {
		t.finish(ctx, run, history.StatusFailed, err, nil)
		logger.Error("failed to save bundle", err)
		return equipment.CombinedMetrics{}, err
	}

	t.finish(ctx, run, history.StatusSuccess, nil, &res.metrics)
	logger.Info("bundle trained",
		log.SamplesKey, len(records),
		log.AccuracyKey, res.metrics.Classification.Accuracy,
		log.DurationMsKey, run.DurationMs,
	)
	return res.metrics, nil
}

// finish は実行結果をメトリクスと台帳に反映する。台帳への記録失敗は学習結果を変えない
func (t *Trainer) finish(ctx context.Context, run *history.TrainingRun, status string, runErr error, cm *equipment.CombinedMetrics) {
	run.Status = status
	run.FinishedAt = time.Now().UTC()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if cm != nil {
		run.Accuracy = cm.Classification.Accuracy
		run.FlowrateR2 = cm.Regression.Flowrate.R2
		run.PressureR2 = cm.Regression.Pressure.R2
		run.TemperatureR2 = cm.Regression.Temperature.R2
		if m, err := history.ToJSONB(cm.Flatten()); err == nil {
			run.Metrics = m
		}
		t.metrics.TrainingDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	t.metrics.TrainingRuns.WithLabelValues(status).Inc()

	if t.runs == nil {
		return
	}
	// 呼び出し元のキャンセルに関係なく記録する
	if err := t.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		t.logger.Warn("failed to record training run", log.ErrorKey, err, log.UserIDKey, run.UserID)
	}
}

// RetrainReport は RetrainAll の結果
type RetrainReport struct {
	Users   int `json:"users"`
	Trained int `json:"trained"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RetrainAll は source の全ユーザーについてレコードを集めて再学習する
//
// ユーザー単位の失敗はログに残して数えるだけで、ループは止めない。
// source が MetricsWriter を実装していれば成功時にメトリクスを書き戻す。
func (t *Trainer) RetrainAll(ctx context.Context, source RecordSource) (RetrainReport, error) {
	var report RetrainReport
	users, err := source.Users(ctx)
	if err != nil {
		return report, err
	}
	writer, _ := source.(MetricsWriter)

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Users++
		logger := t.logger.With(log.UserIDKey, userID)

		records, err := source.Records(ctx, userID)
		if err != nil {
			report.Failed++
			logger.Error("failed to collect records", err)
			continue
		}
		if len(records) < t.cfg.MinSamples {
			report.Skipped++
			logger.Info("not enough data for retraining",
				log.SamplesKey, len(records),
				"need", t.cfg.MinSamples,
			)
			continue
		}

		cm, err := t.TrainUser(ctx, userID, records)
		if err != nil {
			report.Failed++
			continue
		}
		report.Trained++
		if writer != nil {
			if err := writer.UpdateMetrics(ctx, userID, cm.Flatten()); err != nil {
				logger.Warn("failed to update dataset metrics", log.ErrorKey, err)
			}
		}
	}

	t.logger.Info("retraining finished",
		"users", report.Users,
		"trained", report.Trained,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
