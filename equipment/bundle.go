package equipment

import (
	"time"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/ensemble"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/YuminosukeSato/equipml/preprocessing"
)

// BundleFormatVersion は現在のバンドル形式のバージョン
// 0 はバージョン情報を持たない古い形式
const BundleFormatVersion = 1

// 回帰と分類の特徴量名
var (
	RegressionFeatureNames     = []string{"Type_Encoded"}
	ClassificationFeatureNames = []string{"Flowrate", "Pressure", "Temperature"}
)

// StatusSuccess は学習成功時の CombinedMetrics.Status
const StatusSuccess = "success"

// TrainingHistory は最後の学習のメトリクス
type TrainingHistory struct {
	Regression     *RegressionMetrics     `json:"regression,omitempty"`
	Classification *ClassificationMetrics `json:"classification,omitempty"`
}

// Bundle は1ユーザー分の学習済みモデル一式
//
// Train で新しく作られ、以後は変更されない。推論メソッドはバンドルを変更しないため、
// 読み込んだバンドルを複数のリクエストで共有してよい。
type Bundle struct {
	Encoder              *preprocessing.LabelEncoder
	RegressionScaler     *preprocessing.StandardScaler
	ClassificationScaler *preprocessing.StandardScaler

	FlowrateModel    model.Regressor
	PressureModel    model.Regressor
	TemperatureModel model.Regressor
	TypeClassifier   *ensemble.RandomForestClassifier

	FeatureNames []string
	History      TrainingHistory

	Trained       bool
	CreatedAt     time.Time
	FormatVersion int
}

// Regressor は目的変数名に対応する回帰モデルを返す
func (b *Bundle) Regressor(target string) model.Regressor {
	switch target {
	case TargetFlowrate:
		return b.FlowrateModel
	case TargetPressure:
		return b.PressureModel
	case TargetTemperature:
		return b.TemperatureModel
	}
	return nil
}

// CombinedMetrics は Train の戻り値
type CombinedMetrics struct {
	Regression     RegressionMetrics     `json:"regression"`
	Classification ClassificationMetrics `json:"classification"`
	Status         string                `json:"status"`
}

// Flatten はデータセットと一緒に保存する平坦なメトリクスを返す
func (m CombinedMetrics) Flatten() map[string]any {
	return map[string]any{
		"training_samples": m.Regression.TrainingSamples,
		"test_samples":     m.Regression.TestSamples,
		"total_samples":    m.Regression.TotalSamples,
		"equipment_types":  m.Regression.EquipmentTypes,
		TargetFlowrate:     m.Regression.Flowrate,
		TargetPressure:     m.Regression.Pressure,
		TargetTemperature:  m.Regression.Temperature,
		"classification":   m.Classification,
	}
}

// Train はクリーニング、回帰学習、分類学習をこの順に実行して新しいバンドルを返す
//
// 生レコードが最小件数（既定10件、WithMinSamples で変更）に満たない場合は
// 何も学習せずに InsufficientDataError を返す。途中でエラーが起きた場合はバンドルを返さない。
// 分類で再学習したエンコーダーがバンドルに残る。
func Train(records []Record, opts ...Option) (bundle *Bundle, cm CombinedMetrics, err error) {
	defer errors.RecoverFit(&err, "Train")
	cfg := newTrainConfig(opts)
	logger := log.GetLoggerWithName("equipment")
	start := time.Now()

	if len(records) < cfg.minSamples {
		return nil, CombinedMetrics{}, errors.NewInsufficientDataError("Train", cfg.minSamples, len(records))
	}

	ds, err := Clean(records)
	if err != nil {
		return nil, CombinedMetrics{}, err
	}
	reg, err := TrainRegression(ds, opts...)
	if err != nil {
		return nil, CombinedMetrics{}, err
	}
	cls, err := TrainClassification(ds, opts...)
	if err != nil {
		return nil, CombinedMetrics{}, err
	}

	regMetrics := reg.Metrics
	clsMetrics := cls.Metrics
	bundle = &Bundle{
		Encoder:              cls.Encoder,
		RegressionScaler:     reg.Scaler,
		ClassificationScaler: cls.Scaler,
		FlowrateModel:        reg.Models[TargetFlowrate],
		PressureModel:        reg.Models[TargetPressure],
		TemperatureModel:     reg.Models[TargetTemperature],
		TypeClassifier:       cls.Classifier,
		FeatureNames:         append([]string(nil), RegressionFeatureNames...),
		History: TrainingHistory{
			Regression:     &regMetrics,
			Classification: &clsMetrics,
		},
		Trained:       true,
		CreatedAt:     time.Now().UTC(),
		FormatVersion: BundleFormatVersion,
	}

	logger.Info("training completed",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, ds.Len(),
		log.DroppedKey, ds.Dropped,
		log.AccuracyKey, clsMetrics.Accuracy,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return bundle, CombinedMetrics{
		Regression:     regMetrics,
		Classification: clsMetrics,
		Status:         StatusSuccess,
	}, nil
}

// applyDefaults は古い形式のバンドルで欠けている任意フィールドを既定値で埋める
func (b *Bundle) applyDefaults() {
	if b.Encoder == nil {
		b.Encoder = preprocessing.NewLabelEncoder()
	}
	if b.RegressionScaler == nil {
		b.RegressionScaler = preprocessing.NewStandardScaler()
	}
	if b.ClassificationScaler == nil {
		b.ClassificationScaler = preprocessing.NewStandardScaler()
	}
	if len(b.FeatureNames) == 0 {
		b.FeatureNames = append([]string(nil), RegressionFeatureNames...)
	}
}
