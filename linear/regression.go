// Package linear は線形回帰モデルを提供する
package linear

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/core/parallel"
	"github.com/YuminosukeSato/equipml/metrics"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register("LinearRegression", &LinearRegression{})
}

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// LinearRegression は最小二乗法による線形回帰モデル
type LinearRegression struct {
	model.BaseEstimator

	Coef      []float64 // 重み（係数）
	Intercept float64   // 切片
	NFeatures int       // 特徴量の数
	Rank      int       // 中心化した計画行列のランク
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Name はアルゴリズム名を返す
func (lr *LinearRegression) Name() string { return "LinearRegression" }

// Fit はモデルを訓練データで学習させる
//
// X と y を中心化してから特異値分解で最小二乗解を求める。
// 計画行列がランク落ちしている場合（例: 特徴量が定数）は最小ノルム解になり、
// 定数の特徴量の係数は0になる。切片は mean(y) - mean(X)·w。
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return errors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("LinearRegression.Fit", "y must be a column vector")
	}

	xMean := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		xMean[j] = floats.Sum(col) / float64(r)
	}
	yCol := make([]float64, r)
	mat.Col(yCol, 0, y)
	yMean := floats.Sum(yCol) / float64(r)

	// 中心化
	Xc := mat.NewDense(r, c, nil)
	yc := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < c; j++ {
				Xc.Set(i, j, X.At(i, j)-xMean[j])
			}
			yc.Set(i, 0, yCol[i]-yMean)
		}
	})

	var svd mat.SVD
	if ok := svd.Factorize(Xc, mat.SVDThin); !ok {
		return errors.NewModelError("LinearRegression.Fit", "svd factorization failed", errors.ErrSingularMatrix)
	}

	// numpy.linalg.lstsq と同じ既定の rcond
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(r, c))
	rank := svd.Rank(rcond)

	coef := make([]float64, c)
	if rank > 0 {
		var w mat.Dense
		svd.SolveTo(&w, yc, rank)
		mat.Col(coef, 0, &w)
	}
	if err := errors.CheckNumericalStability("LinearRegression.Fit", coef, 0); err != nil {
		return err
	}

	lr.Coef = coef
	lr.Intercept = yMean - floats.Dot(xMean, coef)
	lr.NFeatures = c
	lr.Rank = rank
	lr.SetFitted()
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "Predict")
	}

	r, c := X.Dims()
	if c != lr.NFeatures {
		return nil, errors.NewDimensionError("LinearRegression.Predict", lr.NFeatures, c, 1)
	}

	// 予測: y = X * coef + intercept
	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := lr.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * lr.Coef[j]
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算する
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	yPred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnVector(y), metrics.ColumnVector(yPred))
}

// String はモデルの文字列表現を返す
func (lr *LinearRegression) String() string {
	if !lr.IsFitted() {
		return "LinearRegression()"
	}
	return fmt.Sprintf("LinearRegression(n_features=%d, intercept=%.4f)", lr.NFeatures, lr.Intercept)
}
