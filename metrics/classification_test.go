package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []int
		yPred   []int
		want    float64
		wantErr bool
	}{
		{"all correct", []int{0, 1, 2}, []int{0, 1, 2}, 1, false},
		{"half correct", []int{0, 1, 0, 1}, []int{0, 0, 0, 0}, 0.5, false},
		{"none correct", []int{1, 1}, []int{0, 0}, 0, false},
		{"length mismatch", []int{1, 1}, []int{0}, 0, true},
		{"empty", nil, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(tt.yTrue, tt.yPred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestConfusionMatrix(t *testing.T) {
	yTrue := []int{0, 0, 1, 2, 2, 2}
	yPred := []int{0, 1, 1, 2, 0, 2}

	cm, labels, err := ConfusionMatrix(yTrue, yPred)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, labels)
	assert.Equal(t, [][]int{
		{1, 1, 0},
		{0, 1, 0},
		{1, 0, 2},
	}, cm)

	// 全要素の和はサンプル数
	total := 0
	for _, row := range cm {
		for _, v := range row {
			total += v
		}
	}
	assert.Equal(t, len(yTrue), total)
}

func TestConfusionMatrixLabelsFromPredictions(t *testing.T) {
	// 正解に現れないクラスが予測に出た場合もラベルに含まれる
	cm, labels, err := ConfusionMatrix([]int{3, 3}, []int{3, 5})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, labels)
	assert.Equal(t, [][]int{{1, 1}, {0, 0}}, cm)
}
