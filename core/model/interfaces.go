// Package model defines the estimator interfaces shared by the preprocessing,
// linear, tree and ensemble packages, plus gob persistence helpers.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う (n_samples × 1)
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Regressor is a fitted-or-fittable regression model.
type Regressor interface {
	Fitter
	Predictor
	IsFitted() bool
}

// Classifier is a classification model over integer class codes.
type Classifier interface {
	Fitter
	Predictor
	IsFitted() bool

	// PredictProba returns probability estimates (n_samples × n_classes),
	// columns ordered as Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the class codes seen during fitting in ascending order.
	Classes() []int
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// FeatureImporter is implemented by models exposing a native feature-importance
// vector (tree ensembles do, linear models do not).
type FeatureImporter interface {
	FeatureImportances() ([]float64, error)
}

// Named reports a human-readable algorithm name used in metrics and logs.
type Named interface {
	Name() string
}

// NameOf returns m.Name() if m implements Named, otherwise "unknown".
func NameOf(m interface{}) string {
	if n, ok := m.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
