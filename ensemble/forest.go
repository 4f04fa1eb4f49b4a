// Package ensemble は決定木のアンサンブル（ランダムフォレスト、勾配ブースティング）を提供する
package ensemble

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/core/parallel"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/tree"
	"gonum.org/v1/gonum/mat"
)

func init() {
	model.Register("RandomForestRegressor", &RandomForestRegressor{})
	model.Register("RandomForestClassifier", &RandomForestClassifier{})
}

const (
	// MaxFeaturesAll は各分岐で全特徴量を試す
	MaxFeaturesAll = 0
	// MaxFeaturesSqrt は各分岐で floor(sqrt(n_features)) 個の特徴量を試す
	MaxFeaturesSqrt = -1
)

// ForestParams はランダムフォレストのハイパーパラメータ
type ForestParams struct {
	NEstimators     int
	MaxDepth        int // 0なら無制限
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 正の値なら個数、MaxFeaturesAll / MaxFeaturesSqrt
	Bootstrap       bool
	Seed            uint64
}

func (p ForestParams) treeParams(nFeatures int) tree.Params {
	maxFeatures := p.MaxFeatures
	switch {
	case maxFeatures == MaxFeaturesSqrt:
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	case maxFeatures <= 0:
		maxFeatures = nFeatures
	}
	return tree.Params{
		MaxDepth:        p.MaxDepth,
		MinSamplesSplit: p.MinSamplesSplit,
		MinSamplesLeaf:  p.MinSamplesLeaf,
		MaxFeatures:     maxFeatures,
	}
}

func (p ForestParams) validate() error {
	if p.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", p.NEstimators)
	}
	return nil
}

// treeSeeds は木ごとの乱数シードを導出する
// 各木は独立した乱数列を持つため、並列実行の順序に関わらず結果は同じになる
func treeSeeds(seed uint64, n int) []uint64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
	return seeds
}

// sampleIndices はブートストラップ標本（重複あり）または全インデックスを返す
func sampleIndices(n int, bootstrap bool, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		if bootstrap {
			idx[i] = rng.IntN(n)
		} else {
			idx[i] = i
		}
	}
	return idx
}

// averageImportances は分岐を持つ木の正規化済み重要度を平均し、再度正規化する
func averageImportances(trees []*tree.Tree, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	count := 0
	for _, t := range trees {
		if t.NodeCount() <= 1 {
			continue
		}
		for j, v := range t.FeatureImportances() {
			out[j] += v
		}
		count++
	}
	if count == 0 {
		return out
	}
	var total float64
	for j := range out {
		out[j] /= float64(count)
		total += out[j]
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

// RandomForestRegressor はランダムフォレスト回帰
type RandomForestRegressor struct {
	model.BaseEstimator
	ForestParams

	Trees     []*tree.Tree
	NFeatures int
}

// NewRandomForestRegressor は新しいランダムフォレスト回帰を作成する
// 既定値: ブートストラップあり、全特徴量
func NewRandomForestRegressor(nEstimators, maxDepth int, seed uint64) *RandomForestRegressor {
	return &RandomForestRegressor{ForestParams: ForestParams{
		NEstimators: nEstimators,
		MaxDepth:    maxDepth,
		MaxFeatures: MaxFeaturesAll,
		Bootstrap:   true,
		Seed:        seed,
	}}
}

// Name はアルゴリズム名を返す
func (f *RandomForestRegressor) Name() string { return "RandomForestRegressor" }

// Fit は木を並列に学習する
func (f *RandomForestRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.RecoverFit(&err, "RandomForestRegressor.Fit")

	if err := f.validate(); err != nil {
		return err
	}
	rows, target, err := tree.CheckXY("RandomForestRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	nFeatures := len(rows[0])
	params := f.treeParams(nFeatures)
	seeds := treeSeeds(f.Seed, f.NEstimators)

	trees := make([]*tree.Tree, f.NEstimators)
	if err := parallel.ForEach(f.NEstimators, func(i int) error {
		rng := rand.New(rand.NewPCG(seeds[i], uint64(i)))
		idx := sampleIndices(len(rows), f.Bootstrap, rng)
		trees[i] = tree.BuildRegression(rows, target, idx, params, rng)
		return nil
	}); err != nil {
		return err
	}

	f.Trees = trees
	f.NFeatures = nFeatures
	f.SetFitted()
	return nil
}

// Predict は全ての木の予測の平均を返す
func (f *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != f.NFeatures {
		return nil, errors.NewDimensionError("RandomForestRegressor.Predict", f.NFeatures, c, 1)
	}
	out := mat.NewDense(r, 1, nil)
	for i, row := range tree.RowsOf(X) {
		var sum float64
		for _, t := range f.Trees {
			sum += t.PredictValue(row)
		}
		out.Set(i, 0, sum/float64(len(f.Trees)))
	}
	return out, nil
}

// FeatureImportances は木ごとの不純度ベース重要度の平均を返す
func (f *RandomForestRegressor) FeatureImportances() ([]float64, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestRegressor", "FeatureImportances")
	}
	return averageImportances(f.Trees, f.NFeatures), nil
}

// String はモデルの文字列表現を返す
func (f *RandomForestRegressor) String() string {
	return fmt.Sprintf("RandomForestRegressor(n_estimators=%d, max_depth=%d)", f.NEstimators, f.MaxDepth)
}

// RandomForestClassifier はランダムフォレスト分類
// y にはクラスコード（整数値）を渡す
type RandomForestClassifier struct {
	model.BaseEstimator
	ForestParams

	Trees      []*tree.Tree
	ClassCodes []int
	NFeatures  int
}

// NewRandomForestClassifier は新しいランダムフォレスト分類を作成する
// 既定値: ブートストラップあり、各分岐で sqrt(n_features) 個の特徴量
func NewRandomForestClassifier(nEstimators, maxDepth int, seed uint64) *RandomForestClassifier {
	return &RandomForestClassifier{ForestParams: ForestParams{
		NEstimators: nEstimators,
		MaxDepth:    maxDepth,
		MaxFeatures: MaxFeaturesSqrt,
		Bootstrap:   true,
		Seed:        seed,
	}}
}

// Name はアルゴリズム名を返す
func (f *RandomForestClassifier) Name() string { return "RandomForestClassifier" }

// Fit は木を並列に学習する
func (f *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.RecoverFit(&err, "RandomForestClassifier.Fit")

	if err := f.validate(); err != nil {
		return err
	}
	rows, target, err := tree.CheckXY("RandomForestClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	codes, classIdx := tree.EncodeClasses(target)
	nFeatures := len(rows[0])
	params := f.treeParams(nFeatures)
	seeds := treeSeeds(f.Seed, f.NEstimators)

	trees := make([]*tree.Tree, f.NEstimators)
	if err := parallel.ForEach(f.NEstimators, func(i int) error {
		rng := rand.New(rand.NewPCG(seeds[i], uint64(i)))
		idx := sampleIndices(len(rows), f.Bootstrap, rng)
		trees[i] = tree.BuildClassification(rows, classIdx, len(codes), idx, params, rng)
		return nil
	}); err != nil {
		return err
	}

	f.Trees = trees
	f.ClassCodes = codes
	f.NFeatures = nFeatures
	f.SetFitted()
	return nil
}

// Classes は学習時に見たクラスコードを昇順で返す
func (f *RandomForestClassifier) Classes() []int {
	out := make([]int, len(f.ClassCodes))
	copy(out, f.ClassCodes)
	return out
}

// PredictProba は木ごとのクラス割合の平均（n_samples × n_classes）を返す
func (f *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestClassifier", "PredictProba")
	}
	r, c := X.Dims()
	if c != f.NFeatures {
		return nil, errors.NewDimensionError("RandomForestClassifier.PredictProba", f.NFeatures, c, 1)
	}
	k := len(f.ClassCodes)
	out := mat.NewDense(r, k, nil)
	sum := make([]float64, k)
	for i, row := range tree.RowsOf(X) {
		for j := range sum {
			sum[j] = 0
		}
		for _, t := range f.Trees {
			for j, p := range t.Leaf(row).Value {
				sum[j] += p
			}
		}
		for j := range sum {
			out.Set(i, j, sum[j]/float64(len(f.Trees)))
		}
	}
	return out, nil
}

// Predict は平均確率が最大のクラスコードを n×1 行列で返す
func (f *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxCodes(proba, f.ClassCodes), nil
}

// FeatureImportances は木ごとの不純度ベース重要度の平均を返す
func (f *RandomForestClassifier) FeatureImportances() ([]float64, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestClassifier", "FeatureImportances")
	}
	return averageImportances(f.Trees, f.NFeatures), nil
}

// String はモデルの文字列表現を返す
func (f *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_depth=%d)", f.NEstimators, f.MaxDepth)
}
