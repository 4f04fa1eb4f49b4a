// Package history は学習実行とアップロードされたデータセットを gorm で記録する
package history

import (
	"context"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open はドライバー名（sqlite, postgres）と DSN でデータベースに接続する
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, errors.NewValidationError("driver", "must be sqlite or postgres", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	return db, nil
}

// Ledger は学習実行とデータセットの記録
type Ledger struct {
	db *gorm.DB
}

// NewLedger はテーブルをマイグレーションして Ledger を作る
func NewLedger(db *gorm.DB) (*Ledger, error) {
	if err := db.AutoMigrate(&TrainingRun{}, &Dataset{}); err != nil {
		return nil, errors.Wrap(err, "migrate history tables")
	}
	return &Ledger{db: db}, nil
}

// RecordRun は学習実行を保存する。ID が空なら割り当てる
func (l *Ledger) RecordRun(ctx context.Context, run *TrainingRun) error {
	if err := l.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.Wrap(err, "record training run")
	}
	return nil
}

// Runs はユーザーの学習実行を新しい順に最大 limit 件返す（0以下なら全件）
func (l *Ledger) Runs(ctx context.Context, userID int64, limit int) ([]TrainingRun, error) {
	q := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("started_at DESC, created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []TrainingRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "list training runs")
	}
	return runs, nil
}

// LatestRun はユーザーの最新の学習実行を返す
func (l *Ledger) LatestRun(ctx context.Context, userID int64) (*TrainingRun, error) {
	runs, err := l.Runs(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.Mark(errors.Newf("no training runs for user %d", userID), errors.ErrNotFound)
	}
	return &runs[0], nil
}

// AddDataset はデータセットを保存する
func (l *Ledger) AddDataset(ctx context.Context, ds *Dataset) error {
	if err := l.db.WithContext(ctx).Create(ds).Error; err != nil {
		return errors.Wrap(err, "add dataset")
	}
	return nil
}

// Datasets はユーザーのデータセットを古い順に返す
func (l *Ledger) Datasets(ctx context.Context, userID int64) ([]Dataset, error) {
	var out []Dataset
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "list datasets")
	}
	return out, nil
}

// Users はデータセットを持つユーザーIDを昇順で返す
func (l *Ledger) Users(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := l.db.WithContext(ctx).Model(&Dataset{}).Distinct("user_id").Order("user_id").Pluck("user_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return ids, nil
}

// Records はユーザーの全データセットの行を結合して返す
func (l *Ledger) Records(ctx context.Context, userID int64) ([]equipment.Record, error) {
	datasets, err := l.Datasets(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []equipment.Record
	for i := range datasets {
		out = append(out, datasets[i].Records()...)
	}
	return out, nil
}

// UpdateMetrics はユーザーの全データセットに最新の学習メトリクスを書き込む
func (l *Ledger) UpdateMetrics(ctx context.Context, userID int64, metrics map[string]any) error {
	m, err := ToJSONB(metrics)
	if err != nil {
		return err
	}
	err = l.db.WithContext(ctx).Model(&Dataset{}).Where("user_id = ?", userID).Update("ml_metrics", m).Error
	if err != nil {
		return errors.Wrap(err, "update dataset metrics")
	}
	return nil
}

// RecentDatasets はユーザーのデータセットを新しい順に最大 limit 件返す（0以下なら全件）
func (l *Ledger) RecentDatasets(ctx context.Context, userID int64, limit int) ([]Dataset, error) {
	q := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Dataset
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list recent datasets")
	}
	return out, nil
}

// Dataset はユーザーのデータセットを1件返す。他のユーザーのものは見つからない扱い
func (l *Ledger) Dataset(ctx context.Context, userID int64, id string) (*Dataset, error) {
	var out []Dataset
	err := l.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Limit(1).Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "get dataset")
	}
	if len(out) == 0 {
		return nil, datasetNotFound(userID, id)
	}
	return &out[0], nil
}

// DeleteDataset はユーザーのデータセットを削除する
func (l *Ledger) DeleteDataset(ctx context.Context, userID int64, id string) error {
	res := l.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&Dataset{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete dataset")
	}
	if res.RowsAffected == 0 {
		return datasetNotFound(userID, id)
	}
	return nil
}

// PruneDatasets は新しい keep 件を残してユーザーの古いデータセットを削除し、削除件数を返す
func (l *Ledger) PruneDatasets(ctx context.Context, userID int64, keep int) (int, error) {
	if keep < 1 {
		return 0, errors.NewValidationError("keep", "must be positive", keep)
	}
	var ids []string
	err := l.db.WithContext(ctx).Model(&Dataset{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, errors.Wrap(err, "list datasets to prune")
	}
	if len(ids) <= keep {
		return 0, nil
	}
	stale := ids[keep:]
	if err := l.db.WithContext(ctx).Where("id IN ?", stale).Delete(&Dataset{}).Error; err != nil {
		return 0, errors.Wrap(err, "prune datasets")
	}
	return len(stale), nil
}

func datasetNotFound(userID int64, id string) error {
	return errors.Mark(errors.Newf("dataset %s not found for user %d", id, userID), errors.ErrNotFound)
}
