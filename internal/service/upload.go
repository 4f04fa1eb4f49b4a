package service

import (
	"context"

	"github.com/YuminosukeSato/equipml/dataset"
	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/internal/history"
	"github.com/YuminosukeSato/equipml/pkg/log"
)

// DatasetLedger はデータセットの保存先
type DatasetLedger interface {
	RecordSource
	MetricsWriter
	AddDataset(ctx context.Context, ds *history.Dataset) error
	PruneDatasets(ctx context.Context, userID int64, keep int) (int, error)
}

// DefaultDatasetHistory はユーザーごとに残すデータセット数の既定値
const DefaultDatasetHistory = 5

// UploadResult は Upload の結果
type UploadResult struct {
	Dataset   *history.Dataset `json:"dataset"`
	Summary   dataset.Summary  `json:"summary"`
	MLMetrics map[string]any   `json:"ml_metrics,omitempty"`
	MLTrained bool             `json:"ml_trained"`
	// MLError は学習に失敗した理由。アップロード自体は成功扱い
	MLError string `json:"ml_error,omitempty"`
}

// Uploader はデータセットを保存し、ユーザーの全データで自動学習する
type Uploader struct {
	ledger  DatasetLedger
	trainer *Trainer
	keep    int
	logger  log.Logger
}

// NewUploader は新しい keep 件のデータセットだけを残す Uploader を作る
// keep が0以下なら DefaultDatasetHistory を使う
func NewUploader(ledger DatasetLedger, trainer *Trainer, keep int) *Uploader {
	if keep <= 0 {
		keep = DefaultDatasetHistory
	}
	return &Uploader{ledger: ledger, trainer: trainer, keep: keep, logger: log.GetLoggerWithName("service.upload")}
}

// Upload はレコードを要約して保存し、古いデータセットを削除したうえで、
// 残ったレコードが最小件数以上あれば学習する
// データセットの保存後に起きた失敗はアップロードを失敗させず MLError に入る
func (u *Uploader) Upload(ctx context.Context, userID int64, name string, records []equipment.Record) (*UploadResult, error) {
	summary, err := dataset.Summarize(records)
	if err != nil {
		return nil, err
	}
	summaryJSON, err := history.ToJSONB(summary)
	if err != nil {
		return nil, err
	}
	delete(summaryJSON, "raw_data")

	ds := &history.Dataset{
		UserID:  userID,
		Name:    name,
		Count:   summary.Count,
		Summary: summaryJSON,
		Rows:    summary.Rows,
	}
	if err := u.ledger.AddDataset(ctx, ds); err != nil {
		return nil, err
	}
	res := &UploadResult{Dataset: ds, Summary: summary}

	if n, err := u.ledger.PruneDatasets(ctx, userID, u.keep); err != nil {
		u.logger.Warn("failed to prune old datasets", log.ErrorKey, err, log.UserIDKey, userID)
	} else if n > 0 {
		u.logger.Debug("old datasets pruned", log.UserIDKey, userID, log.DroppedKey, n)
	}

	all, err := u.ledger.Records(ctx, userID)
	if err != nil {
		res.MLError = err.Error()
		u.logger.Warn("failed to collect records for training", log.ErrorKey, err, log.UserIDKey, userID)
		return res, nil
	}
	if len(all) < u.trainer.cfg.MinSamples {
		u.logger.Info("dataset stored without training", log.UserIDKey, userID, log.SamplesKey, len(all))
		return res, nil
	}

	cm, err := u.trainer.TrainUser(ctx, userID, all)
	if err != nil {
		res.MLError = err.Error()
		u.logger.Warn("automatic training failed", log.ErrorKey, err, log.UserIDKey, userID)
		return res, nil
	}
	res.MLMetrics = cm.Flatten()
	res.MLTrained = true
	if err := u.ledger.UpdateMetrics(ctx, userID, res.MLMetrics); err != nil {
		u.logger.Warn("failed to update dataset metrics", log.ErrorKey, err, log.UserIDKey, userID)
	}
	return res, nil
}
