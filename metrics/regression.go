// Package metrics は回帰・分類モデルの評価指標を提供する
package metrics

import (
	"math"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RegressionReport はテスト分割上の回帰評価指標をまとめたもの
type RegressionReport struct {
	R2   float64 `json:"r2_score"`
	MSE  float64 `json:"mse"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

func checkVectors(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkVectors("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// RMSE は平方根平均二乗誤差（Root Mean Squared Error）を計算する
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkVectors("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	return sum / float64(n), nil
}

// R2Score は決定係数（R²）を計算する
//
// yTrue の全変動が0の場合（テスト分割の目的変数がすべて同じ値）、R² は定義できない。
// その場合は予測が完全一致なら1.0、そうでなければ0.0を返し、UndefinedMetricWarning を発生させる。
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkVectors("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yMean float64
	for i := 0; i < n; i++ {
		yMean += yTrue.AtVec(i)
	}
	yMean /= float64(n)

	// 全変動（TSS）と残差変動（RSS）
	var tss, rss float64
	for i := 0; i < n; i++ {
		t := yTrue.AtVec(i)
		p := yPred.AtVec(i)
		tss += (t - yMean) * (t - yMean)
		rss += (t - p) * (t - p)
	}
	if err := errors.CheckNumericalStability("R2Score", []float64{tss, rss}, 0); err != nil {
		return 0, err
	}

	if tss == 0 {
		result := 0.0
		if rss == 0 {
			result = 1.0
		}
		errors.Warn(errors.NewUndefinedMetricWarning("r2_score", "constant y_true in the evaluated split", result))
		return result, nil
	}

	// R² = 1 - RSS/TSS
	return 1 - rss/tss, nil
}

// EvaluateRegression は R²、MSE、MAE、RMSE をまとめて計算する
func EvaluateRegression(yTrue, yPred *mat.VecDense) (RegressionReport, error) {
	r2, err := R2Score(yTrue, yPred)
	if err != nil {
		return RegressionReport{}, err
	}
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return RegressionReport{}, err
	}
	mae, err := MAE(yTrue, yPred)
	if err != nil {
		return RegressionReport{}, err
	}
	return RegressionReport{R2: r2, MSE: mse, MAE: mae, RMSE: math.Sqrt(mse)}, nil
}

// ColumnVector は n×1 行列（Predict の戻り値）を VecDense に変換する
func ColumnVector(m mat.Matrix) *mat.VecDense {
	r, _ := m.Dims()
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}
