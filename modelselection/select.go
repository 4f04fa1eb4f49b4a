package modelselection

import (
	"math"

	"github.com/YuminosukeSato/equipml/pkg/errors"
)

// SelectBest は候補を順に評価し、スコアが最大の候補のインデックスを返す
//
// スコアが厳密に大きい場合のみ最良候補を置き換えるため、同点なら先に評価した候補が残る。
// 全候補のスコアも評価順に返す。NaN のスコアは選ばれない。
func SelectBest[T any](candidates []T, score func(T) (float64, error)) (best int, scores []float64, err error) {
	if len(candidates) == 0 {
		return -1, nil, errors.NewValueError("SelectBest", "no candidates")
	}

	best = -1
	bestScore := math.Inf(-1)
	scores = make([]float64, len(candidates))
	for i, c := range candidates {
		s, err := score(c)
		if err != nil {
			return -1, nil, err
		}
		scores[i] = s
		if s > bestScore {
			best = i
			bestScore = s
		}
	}
	if best < 0 {
		return -1, scores, errors.NewValueError("SelectBest", "no candidate produced a comparable score")
	}
	return best, scores, nil
}
