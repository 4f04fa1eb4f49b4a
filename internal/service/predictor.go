package service

import (
	"context"
	"sort"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/YuminosukeSato/equipml/store"
)

// ModelSummary は予測結果に添える学習時のメトリクス
type ModelSummary struct {
	FlowrateR2      float64 `json:"flowrate_r2"`
	PressureR2      float64 `json:"pressure_r2"`
	TemperatureR2   float64 `json:"temperature_r2"`
	TrainingSamples int     `json:"training_samples"`
	TotalSamples    int     `json:"total_samples"`
}

// ParameterPrediction は Predict の応答
type ParameterPrediction struct {
	equipment.Prediction
	Metrics *ModelSummary `json:"metrics,omitempty"`
}

// AllPredictions は PredictAll の応答
type AllPredictions struct {
	Predictions  []equipment.Prediction `json:"predictions"`
	ModelMetrics *ModelSummary          `json:"model_metrics,omitempty"`
	TotalTypes   int                    `json:"total_types"`
	Message      string                 `json:"message,omitempty"`
}

// NotTrainedMessage は PredictAll でバンドルがまだない場合のメッセージ
const NotTrainedMessage = "Model not trained yet. Upload data to train the model."

// Predictor は保存済みバンドルで推論する
type Predictor struct {
	loader  *store.CachedLoader
	source  RecordSource
	metrics *Metrics
	logger  log.Logger
}

// NewPredictor は loader からバンドルを読み込む Predictor を作る
// source は PredictAll の対象タイプを集めるのに使う。nil なら学習済みのクラスを使う
func NewPredictor(loader *store.CachedLoader, source RecordSource, metrics *Metrics) *Predictor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Predictor{
		loader:  loader,
		source:  source,
		metrics: metrics,
		logger:  log.GetLoggerWithName("service.predictor"),
	}
}

// Bundle はユーザーのバンドルを返す。なければ errors.IsNotFound が true
func (p *Predictor) Bundle(ctx context.Context, userID int64) (*equipment.Bundle, error) {
	return p.loader.Load(ctx, store.UserKey(userID))
}

// Predict は設備タイプから流量・圧力・温度を予測する
func (p *Predictor) Predict(ctx context.Context, userID int64, equipmentType string) (ParameterPrediction, error) {
	b, err := p.Bundle(ctx, userID)
	if err != nil {
		return ParameterPrediction{}, err
	}
	pred, err := b.Predict(equipmentType)
	if err != nil {
		return ParameterPrediction{}, err
	}
	p.metrics.Predictions.WithLabelValues(KindParameters).Inc()
	return ParameterPrediction{Prediction: pred, Metrics: summarize(b)}, nil
}

// PredictType は流量・圧力・温度から設備タイプを予測する
func (p *Predictor) PredictType(ctx context.Context, userID int64, flowrate, pressure, temperature float64) (equipment.TypePrediction, error) {
	b, err := p.Bundle(ctx, userID)
	if err != nil {
		return equipment.TypePrediction{}, err
	}
	tp, err := b.PredictType(flowrate, pressure, temperature)
	if err != nil {
		return equipment.TypePrediction{}, err
	}
	p.metrics.Predictions.WithLabelValues(KindType).Inc()
	return tp, nil
}

// FeatureImportance はユーザーのバンドルの特徴量重要度を返す
func (p *Predictor) FeatureImportance(ctx context.Context, userID int64) (map[string]equipment.Importance, error) {
	b, err := p.Bundle(ctx, userID)
	if err != nil {
		return nil, err
	}
	imp, err := b.FeatureImportance()
	if err != nil {
		return nil, err
	}
	p.metrics.Predictions.WithLabelValues(KindImportance).Inc()
	return imp, nil
}

// PredictAll はユーザーのデータセットにある全タイプについて予測する
// バンドルがまだなければエラーにせず空の結果と NotTrainedMessage を返す。
// 個別の失敗はログに残して飛ばす
func (p *Predictor) PredictAll(ctx context.Context, userID int64) (AllPredictions, error) {
	out := AllPredictions{Predictions: []equipment.Prediction{}}
	b, err := p.Bundle(ctx, userID)
	if errors.IsNotFound(err) {
		out.Message = NotTrainedMessage
		return out, nil
	}
	if err != nil {
		return AllPredictions{}, err
	}
	types, err := p.types(ctx, userID, b)
	if err != nil {
		return AllPredictions{}, err
	}

	out.ModelMetrics = summarize(b)
	for _, typ := range types {
		pred, err := b.Predict(typ)
		if err != nil {
			p.logger.Warn("prediction failed", log.ErrorKey, err, log.EquipmentTypeKey, typ)
			continue
		}
		out.Predictions = append(out.Predictions, pred)
	}
	out.TotalTypes = len(out.Predictions)
	p.metrics.Predictions.WithLabelValues(KindParameters).Add(float64(out.TotalTypes))
	return out, nil
}

// types は保存済みレコードのタイプをソートして返す
// 保存済みレコードがなければ学習済みのクラスを使う
func (p *Predictor) types(ctx context.Context, userID int64, b *equipment.Bundle) ([]string, error) {
	if p.source == nil {
		return b.Encoder.Classes(), nil
	}
	records, err := p.source.Records(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, r := range records {
		if r.Type != "" {
			seen[r.Type] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return b.Encoder.Classes(), nil
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

func summarize(b *equipment.Bundle) *ModelSummary {
	reg := b.History.Regression
	if reg == nil {
		return nil
	}
	return &ModelSummary{
		FlowrateR2:      reg.Flowrate.R2,
		PressureR2:      reg.Pressure.R2,
		TemperatureR2:   reg.Temperature.R2,
		TrainingSamples: reg.TrainingSamples,
		TotalSamples:    reg.TotalSamples,
	}
}
