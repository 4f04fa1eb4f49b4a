// Package tree は CART 決定木（回帰: 二乗誤差、分類: ジニ不純度）を提供する
//
// ノードはフラットな配列に格納され、gob でそのまま永続化できる。
// アンサンブル（ensemble パッケージ）は Build* 関数を直接使って、
// ブートストラップしたインデックス集合から木を構築する。
package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// 純粋とみなす不純度の閾値
const impurityEpsilon = 1e-12

// Node は決定木の1ノード
type Node struct {
	LeftChild  int // 左の子ノード（葉なら-1）
	RightChild int // 右の子ノード（葉なら-1）

	// 分岐情報（内部ノードのみ）: X[SplitFeature] <= Threshold なら左
	SplitFeature int
	Threshold    float64

	// Value は回帰なら [平均値]、分類ならクラスごとの割合
	Value []float64

	Impurity float64
	NSamples int
}

// IsLeaf はノードが葉かどうかを返す
func (n *Node) IsLeaf() bool {
	return n.LeftChild == -1 && n.RightChild == -1
}

// Tree は学習済みの決定木
type Tree struct {
	Nodes     []Node
	NFeatures int
	Depth     int

	// RawImportances は特徴量ごとの重み付き不純度減少量の合計（正規化前）
	RawImportances []float64
}

// Params は木の成長を制御するハイパーパラメータ
type Params struct {
	MaxDepth        int // 0なら無制限
	MinSamplesSplit int // 分岐に必要な最小サンプル数（既定2）
	MinSamplesLeaf  int // 葉の最小サンプル数（既定1）
	MaxFeatures     int // 各分岐で試す特徴量数（0なら全特徴量）
}

func (p Params) withDefaults(nFeatures int) Params {
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.MaxFeatures <= 0 || p.MaxFeatures > nFeatures {
		p.MaxFeatures = nFeatures
	}
	return p
}

// Leaf は row が到達する葉ノードを返す
func (t *Tree) Leaf(row []float64) *Node {
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.IsLeaf() {
			return n
		}
		if row[n.SplitFeature] <= n.Threshold {
			idx = n.LeftChild
		} else {
			idx = n.RightChild
		}
	}
}

// PredictValue は回帰木の予測値を返す
func (t *Tree) PredictValue(row []float64) float64 {
	return t.Leaf(row).Value[0]
}

// NodeCount はノード数を返す
func (t *Tree) NodeCount() int {
	return len(t.Nodes)
}

// FeatureImportances は合計が1になるよう正規化した不純度ベースの重要度（MDI）を返す
// 一度も分岐していない木ではすべて0
func (t *Tree) FeatureImportances() []float64 {
	out := make([]float64, t.NFeatures)
	var total float64
	for _, v := range t.RawImportances {
		total += v
	}
	if total <= 0 {
		return out
	}
	for j, v := range t.RawImportances {
		out[j] = v / total
	}
	return out
}

// RowsOf は行列を行スライスに変換する（木の探索用）
func RowsOf(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = X.At(i, j)
		}
		rows[i] = row
	}
	return rows
}

// BuildRegression は indices が指す行で二乗誤差基準の回帰木を構築する
// indices には重複（ブートストラップ）を含めてよい
func BuildRegression(X [][]float64, y []float64, indices []int, p Params, rng *rand.Rand) *Tree {
	b := &builder{X: X, yReg: y, rng: rng}
	return b.build(indices, p)
}

// BuildClassification は indices が指す行でジニ不純度基準の分類木を構築する
// y は 0..nClasses-1 のクラスインデックス
func BuildClassification(X [][]float64, y []int, nClasses int, indices []int, p Params, rng *rand.Rand) *Tree {
	b := &builder{X: X, yCls: y, nClasses: nClasses, classification: true, rng: rng}
	return b.build(indices, p)
}

// splitInfo は分岐候補の情報
type splitInfo struct {
	Feature   int
	Threshold float64
	Gain      float64 // n*imp - nL*impL - nR*impR
}

type builder struct {
	X              [][]float64
	yReg           []float64
	yCls           []int
	nClasses       int
	classification bool
	params         Params
	rng            *rand.Rand
	tree           *Tree
}

func (b *builder) build(indices []int, p Params) *Tree {
	nFeatures := 0
	if len(b.X) > 0 {
		nFeatures = len(b.X[0])
	}
	b.params = p.withDefaults(nFeatures)
	b.tree = &Tree{
		NFeatures:      nFeatures,
		RawImportances: make([]float64, nFeatures),
	}
	idx := make([]int, len(indices))
	copy(idx, indices)
	b.buildNode(idx, 0)
	return b.tree
}

// buildNode は再帰的にノードを構築し、そのインデックスを返す
func (b *builder) buildNode(indices []int, depth int) int {
	nodeIdx := len(b.tree.Nodes)
	value, impurity := b.nodeStats(indices)
	b.tree.Nodes = append(b.tree.Nodes, Node{
		LeftChild:  -1,
		RightChild: -1,
		Value:      value,
		Impurity:   impurity,
		NSamples:   len(indices),
	})
	if depth > b.tree.Depth {
		b.tree.Depth = depth
	}

	// 停止条件
	n := len(indices)
	if (b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) ||
		n < b.params.MinSamplesSplit ||
		n < 2*b.params.MinSamplesLeaf ||
		impurity <= impurityEpsilon {
		return nodeIdx
	}

	split, ok := b.findBestSplit(indices, impurity)
	if !ok {
		return nodeIdx
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	for _, i := range indices {
		if b.X[i][split.Feature] <= split.Threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.tree.RawImportances[split.Feature] += math.Max(split.Gain, 0)
	b.tree.Nodes[nodeIdx].SplitFeature = split.Feature
	b.tree.Nodes[nodeIdx].Threshold = split.Threshold

	leftChild := b.buildNode(left, depth+1)
	rightChild := b.buildNode(right, depth+1)
	b.tree.Nodes[nodeIdx].LeftChild = leftChild
	b.tree.Nodes[nodeIdx].RightChild = rightChild
	return nodeIdx
}

func (b *builder) nodeStats(indices []int) ([]float64, float64) {
	n := float64(len(indices))
	if b.classification {
		counts := make([]float64, b.nClasses)
		for _, i := range indices {
			counts[b.yCls[i]]++
		}
		return proportions(counts, n), gini(counts, n)
	}
	var sum, sumSq float64
	for _, i := range indices {
		sum += b.yReg[i]
		sumSq += b.yReg[i] * b.yReg[i]
	}
	return []float64{sum / n}, variance(sum, sumSq, n)
}

// candidateFeatures は今回の分岐で試す特徴量を返す
func (b *builder) candidateFeatures() []int {
	nFeatures := b.tree.NFeatures
	if b.params.MaxFeatures >= nFeatures || b.rng == nil {
		features := make([]int, nFeatures)
		for j := range features {
			features[j] = j
		}
		return features
	}
	return b.rng.Perm(nFeatures)[:b.params.MaxFeatures]
}

// findBestSplit は候補特徴量の中で不純度減少が最大の分岐を探す
func (b *builder) findBestSplit(indices []int, impurity float64) (splitInfo, bool) {
	best := splitInfo{Gain: math.Inf(-1)}
	found := false
	for _, f := range b.candidateFeatures() {
		split, ok := b.findBestSplitForFeature(indices, f, impurity)
		if ok && split.Gain > best.Gain {
			best = split
			found = true
		}
	}
	return best, found
}

func (b *builder) findBestSplitForFeature(indices []int, feature int, impurity float64) (splitInfo, bool) {
	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.SliceStable(sorted, func(i, j int) bool {
		return b.X[sorted[i]][feature] < b.X[sorted[j]][feature]
	})

	n := len(sorted)
	minLeaf := b.params.MinSamplesLeaf
	best := splitInfo{Feature: feature, Gain: math.Inf(-1)}
	found := false

	if b.classification {
		total := make([]float64, b.nClasses)
		for _, i := range sorted {
			total[b.yCls[i]]++
		}
		left := make([]float64, b.nClasses)
		right := make([]float64, b.nClasses)
		for k := 0; k < n-1; k++ {
			left[b.yCls[sorted[k]]]++
			nl := k + 1
			nr := n - nl
			if b.X[sorted[k]][feature] == b.X[sorted[k+1]][feature] || nl < minLeaf || nr < minLeaf {
				continue
			}
			for c := range right {
				right[c] = total[c] - left[c]
			}
			impL := gini(left, float64(nl))
			impR := gini(right, float64(nr))
			gain := float64(n)*impurity - float64(nl)*impL - float64(nr)*impR
			if gain > best.Gain {
				best.Gain = gain
				best.Threshold = midpoint(b.X[sorted[k]][feature], b.X[sorted[k+1]][feature])
				found = true
			}
		}
		return best, found
	}

	var totalSum, totalSq float64
	for _, i := range sorted {
		totalSum += b.yReg[i]
		totalSq += b.yReg[i] * b.yReg[i]
	}
	var leftSum, leftSq float64
	for k := 0; k < n-1; k++ {
		v := b.yReg[sorted[k]]
		leftSum += v
		leftSq += v * v
		nl := k + 1
		nr := n - nl
		if b.X[sorted[k]][feature] == b.X[sorted[k+1]][feature] || nl < minLeaf || nr < minLeaf {
			continue
		}
		impL := variance(leftSum, leftSq, float64(nl))
		impR := variance(totalSum-leftSum, totalSq-leftSq, float64(nr))
		gain := float64(n)*impurity - float64(nl)*impL - float64(nr)*impR
		if gain > best.Gain {
			best.Gain = gain
			best.Threshold = midpoint(b.X[sorted[k]][feature], b.X[sorted[k+1]][feature])
			found = true
		}
	}
	return best, found
}

// midpoint は2値の中点を返す。浮動小数の丸めで上側の値と等しくなった場合は下側の値を使う
func midpoint(lo, hi float64) float64 {
	m := lo + (hi-lo)/2
	if m >= hi {
		return lo
	}
	return m
}

func variance(sum, sumSq, n float64) float64 {
	mean := sum / n
	v := sumSq/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

func gini(counts []float64, n float64) float64 {
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	if g < 0 {
		return 0
	}
	return g
}

func proportions(counts []float64, n float64) []float64 {
	out := make([]float64, len(counts))
	for c, v := range counts {
		out[c] = v / n
	}
	return out
}
