package metrics

import (
	"sort"

	"github.com/YuminosukeSato/equipml/pkg/errors"
)

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) == 0 {
		return 0, errors.NewValueError("Accuracy", "empty vector")
	}
	if len(yPred) != len(yTrue) {
		return 0, errors.NewDimensionError("Accuracy", len(yTrue), len(yPred), 0)
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// ConfusionMatrix は混同行列を計算する
//
// 行は正解ラベル、列は予測ラベル。ラベルは yTrue と yPred に現れたコードの和集合を
// 昇順に並べたもの（scikit-learn の confusion_matrix と同じ規約）で、2つ目の戻り値として返す。
// 全要素の和はサンプル数に等しい。
func ConfusionMatrix(yTrue, yPred []int) ([][]int, []int, error) {
	if len(yTrue) == 0 {
		return nil, nil, errors.NewValueError("ConfusionMatrix", "empty vector")
	}
	if len(yPred) != len(yTrue) {
		return nil, nil, errors.NewDimensionError("ConfusionMatrix", len(yTrue), len(yPred), 0)
	}

	seen := make(map[int]struct{})
	for i := range yTrue {
		seen[yTrue[i]] = struct{}{}
		seen[yPred[i]] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	pos := make(map[int]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}

	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		cm[pos[yTrue[i]]][pos[yPred[i]]]++
	}
	return cm, labels, nil
}
