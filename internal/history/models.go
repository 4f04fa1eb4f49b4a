package history

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 学習実行の状態
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusSkipped はサンプル不足で学習しなかった実行
	StatusSkipped = "skipped"
	StatusTimeout = "timeout"
)

// JSONB はJSON列に保存する汎用マップ
type JSONB map[string]any

// Scan は sql.Scanner を実装する
func (j *JSONB) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil || b == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(b, j)
}

// Value は driver.Valuer を実装する
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	return string(b), err
}

// RowList はクリーニング済みの行をJSON列に保存する
type RowList []equipment.Row

func (r *RowList) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil || b == nil {
		*r = nil
		return err
	}
	return json.Unmarshal(b, r)
}

func (r RowList) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	return string(b), err
}

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.Newf("unsupported JSON column type %T", value)
	}
}

// TrainingRun は1回の学習実行の記録
type TrainingRun struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        int64     `json:"user_id" gorm:"not null;index"`
	Status        string    `json:"status" gorm:"not null;size:20;index"`
	BundleKey     string    `json:"bundle_key" gorm:"size:255"`
	Samples       int       `json:"samples"`
	Accuracy      float64   `json:"accuracy"`
	FlowrateR2    float64   `json:"flowrate_r2"`
	PressureR2    float64   `json:"pressure_r2"`
	TemperatureR2 float64   `json:"temperature_r2"`
	Metrics       JSONB     `json:"metrics,omitempty" gorm:"type:text"`
	Error         string    `json:"error,omitempty" gorm:"type:text"`
	DurationMs    int64     `json:"duration_ms"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// BeforeCreate はIDが空ならUUIDを割り当てる
func (r *TrainingRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// Dataset はアップロードされたデータセットとその要約・学習メトリクス
type Dataset struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    int64     `json:"user_id" gorm:"not null;index"`
	Name      string    `json:"name" gorm:"size:255"`
	Count     int       `json:"count"`
	Summary   JSONB     `json:"summary" gorm:"type:text"`
	Rows      RowList   `json:"raw_data" gorm:"type:text"`
	MLMetrics JSONB     `json:"ml_metrics,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d *Dataset) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// Records は保存された行を学習用のレコードに戻す
func (d *Dataset) Records() []equipment.Record {
	return equipment.CleanedDataset{Rows: d.Rows}.Records()
}

// ToJSONB は任意の値をJSONを経由して JSONB に変換する
func ToJSONB(v any) (JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal metrics")
	}
	var out JSONB
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "unmarshal metrics")
	}
	return out, nil
}
