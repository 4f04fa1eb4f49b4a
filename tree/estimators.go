package tree

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register("DecisionTreeRegressor", &DecisionTreeRegressor{})
}

// DecisionTreeRegressor は二乗誤差基準の回帰木
type DecisionTreeRegressor struct {
	model.BaseEstimator
	Params
	Seed uint64

	Tree      *Tree
	NFeatures int
}

// NewDecisionTreeRegressor は新しい回帰木を作成する
func NewDecisionTreeRegressor(p Params, seed uint64) *DecisionTreeRegressor {
	return &DecisionTreeRegressor{Params: p, Seed: seed}
}

// Name はアルゴリズム名を返す
func (d *DecisionTreeRegressor) Name() string { return "DecisionTreeRegressor" }

// Fit は回帰木を学習する
func (d *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	rows, target, err := CheckXY("DecisionTreeRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(d.Seed, d.Seed))
	d.Tree = BuildRegression(rows, target, allIndices(len(rows)), d.Params, rng)
	d.NFeatures = len(rows[0])
	d.SetFitted()
	return nil
}

// Predict は各行の予測値を n×1 行列で返す
func (d *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !d.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != d.NFeatures {
		return nil, errors.NewDimensionError("DecisionTreeRegressor.Predict", d.NFeatures, c, 1)
	}
	out := mat.NewDense(r, 1, nil)
	for i, row := range RowsOf(X) {
		out.Set(i, 0, d.Tree.PredictValue(row))
	}
	return out, nil
}

// FeatureImportances は正規化済みの不純度ベース重要度を返す
func (d *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if !d.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeRegressor", "FeatureImportances")
	}
	return d.Tree.FeatureImportances(), nil
}

// EncodeClasses は整数値のターゲットをソート済みクラスコードと 0..k-1 のインデックスに変換する
func EncodeClasses(y []float64) (codes []int, idx []int) {
	seen := make(map[int]struct{})
	for _, v := range y {
		c := int(v)
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			codes = append(codes, c)
		}
	}
	sort.Ints(codes)
	pos := make(map[int]int, len(codes))
	for i, c := range codes {
		pos[c] = i
	}
	idx = make([]int, len(y))
	for i, v := range y {
		idx[i] = pos[int(v)]
	}
	return codes, idx
}

// ArgmaxCodes は確率行列の各行で最大の列に対応するクラスコードを返す
// 同率の場合は先頭（コードが小さい方）を選ぶ
func ArgmaxCodes(proba mat.Matrix, codes []int) *mat.Dense {
	r, c := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(codes[best]))
	}
	return out
}

// CheckXY は入力を検証し、行スライスとターゲットに変換する
func CheckXY(op string, X, y mat.Matrix) ([][]float64, []float64, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	ry, cy := y.Dims()
	if ry != r {
		return nil, nil, errors.NewDimensionError(op, r, ry, 0)
	}
	if cy != 1 {
		return nil, nil, errors.NewValueError(op, "y must be a column vector")
	}
	target := make([]float64, r)
	mat.Col(target, 0, y)
	if err := errors.CheckNumericalStability(op, target, 0); err != nil {
		return nil, nil, err
	}
	return RowsOf(X), target, nil
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// String は木の概要を返す
func (t *Tree) String() string {
	return fmt.Sprintf("Tree(nodes=%d, depth=%d)", len(t.Nodes), t.Depth)
}
