package equipment

import (
	"math"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// FallbackTypeCode は未知の設備タイプに使うコード
const FallbackTypeCode = 0

// Prediction は Predict の結果
type Prediction struct {
	EquipmentType        string  `json:"equipment_type"`
	PredictedFlowrate    float64 `json:"predicted_flowrate"`
	PredictedPressure    float64 `json:"predicted_pressure"`
	PredictedTemperature float64 `json:"predicted_temperature"`

	// FallbackEncoding は未知のタイプのためコード0で代用したかどうか
	FallbackEncoding bool `json:"fallback_encoding"`
}

// InputParameters は PredictType に渡された入力
type InputParameters struct {
	Flowrate    float64 `json:"flowrate"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// TypePrediction は PredictType の結果
type TypePrediction struct {
	PredictedType   string          `json:"predicted_type"`
	Confidence      float64         `json:"confidence"`
	InputParameters InputParameters `json:"input_parameters"`
}

// Importance は1モデル分の特徴量重要度
type Importance struct {
	Features   []string  `json:"features"`
	Importance []float64 `json:"importance"`
}

// Predict は設備タイプから流量・圧力・温度を予測する（小数点以下2桁に丸める）
//
// 学習時に見ていないタイプはエラーにせずコード0で代用する。この場合の予測値は
// 別のタイプに対するものであり正しさは保証されない。FallbackEncoding で判別できる。
func (b *Bundle) Predict(equipmentType string) (Prediction, error) {
	if !b.Trained {
		return Prediction{}, errors.NewNotTrainedError("Predict")
	}

	fallback := false
	code, err := b.Encoder.Encode(equipmentType)
	if err != nil {
		if !errors.Is(err, errors.ErrUnknownLabel) {
			return Prediction{}, err
		}
		code = FallbackTypeCode
		fallback = true
		errors.Warn(errors.NewUnknownLabelWarning(equipmentType, FallbackTypeCode))
	}

	scaled, err := b.RegressionScaler.TransformRow(float64(code))
	if err != nil {
		return Prediction{}, err
	}
	X := mat.NewDense(1, len(scaled), scaled)

	values := make([]float64, len(Targets))
	for i, target := range Targets {
		m := b.Regressor(target)
		if m == nil || !m.IsFitted() {
			return Prediction{}, errors.NewNotFittedError(target+" model", "Predict")
		}
		out, err := m.Predict(X)
		if err != nil {
			return Prediction{}, err
		}
		values[i] = out.At(0, 0)
	}
	if err := errors.CheckNumericalStability("Bundle.Predict", values, 0); err != nil {
		return Prediction{}, err
	}

	log.GetLoggerWithName("equipment").Debug("parameters predicted",
		log.OperationKey, log.OperationPredict,
		log.EquipmentTypeKey, equipmentType,
		"fallback", fallback,
	)
	return Prediction{
		EquipmentType:        equipmentType,
		PredictedFlowrate:    Round2(values[0]),
		PredictedPressure:    Round2(values[1]),
		PredictedTemperature: Round2(values[2]),
		FallbackEncoding:     fallback,
	}, nil
}

// PredictType は流量・圧力・温度から設備タイプを予測する
// Confidence は最大クラス確率を百分率にして小数点以下2桁に丸めたもの
func (b *Bundle) PredictType(flowrate, pressure, temperature float64) (TypePrediction, error) {
	if !b.Trained || b.TypeClassifier == nil || !b.TypeClassifier.IsFitted() {
		return TypePrediction{}, errors.NewNotTrainedError("PredictType")
	}

	scaled, err := b.ClassificationScaler.TransformRow(flowrate, pressure, temperature)
	if err != nil {
		return TypePrediction{}, err
	}
	X := mat.NewDense(1, len(scaled), scaled)

	proba, err := b.TypeClassifier.PredictProba(X)
	if err != nil {
		return TypePrediction{}, err
	}
	classes := b.TypeClassifier.Classes()
	best := 0
	for j := 1; j < len(classes); j++ {
		if proba.At(0, j) > proba.At(0, best) {
			best = j
		}
	}
	label, err := b.Encoder.Decode(classes[best])
	if err != nil {
		return TypePrediction{}, err
	}
	confidence := Round2(proba.At(0, best) * 100)

	log.GetLoggerWithName("equipment").Debug("type predicted",
		log.OperationKey, log.OperationPredictType,
		log.EquipmentTypeKey, label,
		log.ConfidenceKey, confidence,
	)
	return TypePrediction{
		PredictedType: label,
		Confidence:    confidence,
		InputParameters: InputParameters{
			Flowrate:    flowrate,
			Pressure:    pressure,
			Temperature: temperature,
		},
	}, nil
}

// FeatureImportance は特徴量重要度を持つモデルについて、キー（flowrate, pressure,
// temperature, classification）ごとの重要度を返す。持たないモデルは結果に含めない
func (b *Bundle) FeatureImportance() (map[string]Importance, error) {
	if !b.Trained {
		return nil, errors.NewNotTrainedError("FeatureImportance")
	}

	out := make(map[string]Importance)
	for _, target := range Targets {
		imp, ok, err := importanceOf(b.Regressor(target))
		if err != nil {
			return nil, err
		}
		if ok {
			out[target] = Importance{
				Features:   append([]string(nil), b.FeatureNames...),
				Importance: imp,
			}
		}
	}
	if b.TypeClassifier != nil {
		imp, ok, err := importanceOf(b.TypeClassifier)
		if err != nil {
			return nil, err
		}
		if ok {
			out["classification"] = Importance{
				Features:   append([]string(nil), ClassificationFeatureNames...),
				Importance: imp,
			}
		}
	}
	return out, nil
}

func importanceOf(m interface{}) ([]float64, bool, error) {
	fi, ok := m.(model.FeatureImporter)
	if !ok || m == nil {
		return nil, false, nil
	}
	imp, err := fi.FeatureImportances()
	if err != nil {
		return nil, false, err
	}
	return imp, true, nil
}

// Round2 は小数点以下2桁に四捨五入する
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
