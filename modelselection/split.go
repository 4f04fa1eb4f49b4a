// Package modelselection はデータ分割とモデル選択のユーティリティを提供する
package modelselection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Split は TrainTestSplit の結果（元データの行インデックス）
type Split struct {
	Train []int
	Test  []int

	// Stratified は層化分割が実際に行われたかどうか
	Stratified bool
}

// TestSizeFor は scikit-learn と同じ規則でテストサイズを求める: ceil(testSize * n)
func TestSizeFor(n int, testSize float64) int {
	return int(math.Ceil(testSize * float64(n)))
}

// TrainTestSplit は n 行のデータを訓練用とテスト用に分割する
//
// テストサイズは ceil(testSize*n)。同じ seed なら同じ分割を返す。
// stratify が非nilの場合はクラス比を保った層化分割を試み、
// 不可能な場合（2サンプル未満のクラスがある、どちらかの分割がクラス数より小さい）は
// SplitFallbackWarning を発生させて通常の分割に切り替える。
func TrainTestSplit(n int, testSize float64, seed uint64, stratify []int) (Split, error) {
	if testSize <= 0 || testSize >= 1 {
		return Split{}, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := TestSizeFor(n, testSize)
	nTrain := n - nTest
	if n < 2 || nTrain < 1 || nTest < 1 {
		return Split{}, errors.NewInsufficientDataError("TrainTestSplit", 2, n)
	}
	if stratify != nil && len(stratify) != n {
		return Split{}, errors.NewDimensionError("TrainTestSplit", n, len(stratify), 0)
	}

	rng := rand.New(rand.NewPCG(seed, seed))

	if stratify != nil {
		if reason := stratifyInfeasible(stratify, nTrain, nTest); reason != "" {
			errors.Warn(errors.NewSplitFallbackWarning(reason))
		} else {
			return stratifiedSplit(stratify, nTest, rng), nil
		}
	}

	perm := rng.Perm(n)
	return Split{
		Test:  perm[:nTest],
		Train: perm[nTest:],
	}, nil
}

func classCounts(y []int) (classes []int, counts map[int]int) {
	counts = make(map[int]int)
	for _, c := range y {
		if _, ok := counts[c]; !ok {
			classes = append(classes, c)
		}
		counts[c]++
	}
	sort.Ints(classes)
	return classes, counts
}

func stratifyInfeasible(y []int, nTrain, nTest int) string {
	classes, counts := classCounts(y)
	for _, c := range classes {
		if counts[c] < 2 {
			return fmt.Sprintf("class %d has only %d sample", c, counts[c])
		}
	}
	if nTest < len(classes) {
		return fmt.Sprintf("test size %d is smaller than the number of classes %d", nTest, len(classes))
	}
	if nTrain < len(classes) {
		return fmt.Sprintf("train size %d is smaller than the number of classes %d", nTrain, len(classes))
	}
	return ""
}

// stratifiedSplit はクラスごとのテスト割当を最大剰余法で決め、クラス内をシャッフルして分割する
func stratifiedSplit(y []int, nTest int, rng *rand.Rand) Split {
	classes, counts := classCounts(y)
	n := len(y)

	alloc := make(map[int]int, len(classes))
	type rem struct {
		class int
		frac  float64
	}
	rems := make([]rem, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(counts[c]) * float64(nTest) / float64(n)
		fl := int(math.Floor(exact))
		alloc[c] = fl
		assigned += fl
		rems = append(rems, rem{class: c, frac: exact - float64(fl)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < nTest && i < len(rems); i++ {
		c := rems[i].class
		if alloc[c] < counts[c]-1 {
			alloc[c]++
			assigned++
		}
	}
	// まだ足りない場合は訓練側に1件以上残る範囲で順に割り当てる
	for i := 0; assigned < nTest && i < len(classes); i++ {
		c := classes[i]
		for assigned < nTest && alloc[c] < counts[c]-1 {
			alloc[c]++
			assigned++
		}
	}

	byClass := make(map[int][]int, len(classes))
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}

	var s Split
	s.Stratified = true
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		s.Test = append(s.Test, idx[:alloc[c]]...)
		s.Train = append(s.Train, idx[alloc[c]:]...)
	}
	rng.Shuffle(len(s.Test), func(i, j int) { s.Test[i], s.Test[j] = s.Test[j], s.Test[i] })
	rng.Shuffle(len(s.Train), func(i, j int) { s.Train[i], s.Train[j] = s.Train[j], s.Train[i] })
	return s
}

// Rows は X から指定した行を抜き出した新しい行列を返す
func Rows(X mat.Matrix, idx []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(r, j))
		}
	}
	return out
}

// Take は値スライスから指定したインデックスの要素を抜き出す
func Take[T any](values []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, r := range idx {
		out[i] = values[r]
	}
	return out
}
