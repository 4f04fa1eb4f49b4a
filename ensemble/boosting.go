package ensemble

import (
	"fmt"
	"math/rand/v2"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/tree"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register("GradientBoostingRegressor", &GradientBoostingRegressor{})
}

// GradientBoostingRegressor は二乗誤差損失の勾配ブースティング回帰
//
// 初期値は目的変数の平均。各ステージで残差に回帰木を当てはめ、
// 学習率を掛けた予測を加算する。
type GradientBoostingRegressor struct {
	model.BaseEstimator

	NEstimators  int
	LearningRate float64
	MaxDepth     int
	Seed         uint64

	Init      float64
	Trees     []*tree.Tree
	NFeatures int
	// TrainLoss はステージごとの訓練データ上のMSE
	TrainLoss []float64
}

// NewGradientBoostingRegressor は既定値（学習率0.1、深さ3）で作成する
func NewGradientBoostingRegressor(nEstimators int, seed uint64) *GradientBoostingRegressor {
	return &GradientBoostingRegressor{
		NEstimators:  nEstimators,
		LearningRate: 0.1,
		MaxDepth:     3,
		Seed:         seed,
	}
}

// Name はアルゴリズム名を返す
func (g *GradientBoostingRegressor) Name() string { return "GradientBoostingRegressor" }

// Fit はステージを順に学習する
func (g *GradientBoostingRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.RecoverFit(&err, "GradientBoostingRegressor.Fit")

	if g.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", g.NEstimators)
	}
	if g.LearningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", g.LearningRate)
	}
	rows, target, err := tree.CheckXY("GradientBoostingRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	n := len(rows)

	var mean float64
	for _, v := range target {
		mean += v
	}
	mean /= float64(n)

	current := make([]float64, n)
	for i := range current {
		current[i] = mean
	}
	residual := make([]float64, n)
	all := sampleIndices(n, false, nil)
	params := tree.Params{MaxDepth: g.MaxDepth}
	rng := rand.New(rand.NewPCG(g.Seed, g.Seed))

	trees := make([]*tree.Tree, g.NEstimators)
	loss := make([]float64, g.NEstimators)
	for m := 0; m < g.NEstimators; m++ {
		for i := range residual {
			residual[i] = target[i] - current[i]
		}
		t := tree.BuildRegression(rows, residual, all, params, rng)
		var sse float64
		for i, row := range rows {
			current[i] += g.LearningRate * t.PredictValue(row)
			d := target[i] - current[i]
			sse += d * d
		}
		trees[m] = t
		loss[m] = sse / float64(n)
	}
	if err := errors.CheckNumericalStability("GradientBoostingRegressor.Fit", current, g.NEstimators); err != nil {
		return err
	}

	g.Init = mean
	g.Trees = trees
	g.TrainLoss = loss
	g.NFeatures = len(rows[0])
	g.SetFitted()
	return nil
}

// Predict は初期値と全ステージの予測の和を返す
func (g *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !g.IsFitted() {
		return nil, errors.NewNotFittedError("GradientBoostingRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != g.NFeatures {
		return nil, errors.NewDimensionError("GradientBoostingRegressor.Predict", g.NFeatures, c, 1)
	}
	out := mat.NewDense(r, 1, nil)
	for i, row := range tree.RowsOf(X) {
		v := g.Init
		for _, t := range g.Trees {
			v += g.LearningRate * t.PredictValue(row)
		}
		out.Set(i, 0, v)
	}
	return out, nil
}

// FeatureImportances は分岐を持つステージの未正規化重要度（ルートのサンプル数で割ったもの）を
// 平均し、合計1に正規化して返す
func (g *GradientBoostingRegressor) FeatureImportances() ([]float64, error) {
	if !g.IsFitted() {
		return nil, errors.NewNotFittedError("GradientBoostingRegressor", "FeatureImportances")
	}
	out := make([]float64, g.NFeatures)
	count := 0
	for _, t := range g.Trees {
		if t.NodeCount() <= 1 {
			continue
		}
		root := float64(t.Nodes[0].NSamples)
		for j, v := range t.RawImportances {
			out[j] += v / root
		}
		count++
	}
	if count == 0 {
		return out, nil
	}
	var total float64
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out, nil
}

// String はモデルの文字列表現を返す
func (g *GradientBoostingRegressor) String() string {
	return fmt.Sprintf("GradientBoostingRegressor(n_estimators=%d, learning_rate=%g, max_depth=%d)",
		g.NEstimators, g.LearningRate, g.MaxDepth)
}
