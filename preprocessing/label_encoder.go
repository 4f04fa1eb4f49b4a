package preprocessing

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/pkg/errors"
)

func init() {
	model.Register("LabelEncoder", &LabelEncoder{})
}

// LabelEncoder は文字列ラベルと整数コードを相互変換する
// コードはソート済みクラス一覧でのインデックス（0..n_classes-1）
type LabelEncoder struct {
	model.BaseEstimator

	// ClassLabels はソート済みの一意なラベル
	ClassLabels []string
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit はラベル一覧からクラスを学習する。以前の学習結果は破棄される
func (e *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0)
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		classes = append(classes, l)
	}
	sort.Strings(classes)

	e.ClassLabels = classes
	e.SetFitted()
	return nil
}

// FitTransform は学習とエンコードを同時に行う
func (e *LabelEncoder) FitTransform(labels []string) ([]int, error) {
	if err := e.Fit(labels); err != nil {
		return nil, err
	}
	return e.Transform(labels)
}

// Transform はラベル列をコード列に変換する。未知のラベルがあればエラー
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	codes := make([]int, len(labels))
	for i, l := range labels {
		c, err := e.Encode(l)
		if err != nil {
			return nil, err
		}
		codes[i] = c
	}
	return codes, nil
}

// Encode は1つのラベルをコードに変換する
func (e *LabelEncoder) Encode(label string) (int, error) {
	if !e.IsFitted() {
		return 0, errors.NewNotFittedError("LabelEncoder", "Encode")
	}
	// ClassLabels はソート済みなので二分探索で引ける（読み取り専用で並行安全）
	code := sort.SearchStrings(e.ClassLabels, label)
	if code >= len(e.ClassLabels) || e.ClassLabels[code] != label {
		return 0, errors.Wrapf(errors.ErrUnknownLabel, "LabelEncoder.Encode: %q", label)
	}
	return code, nil
}

// Decode はコードをラベルに戻す
func (e *LabelEncoder) Decode(code int) (string, error) {
	if !e.IsFitted() {
		return "", errors.NewNotFittedError("LabelEncoder", "Decode")
	}
	if code < 0 || code >= len(e.ClassLabels) {
		return "", errors.NewValueError("LabelEncoder.Decode", fmt.Sprintf("code %d out of range [0, %d)", code, len(e.ClassLabels)))
	}
	return e.ClassLabels[code], nil
}

// Classes はソート済みクラスのコピーを返す
func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.ClassLabels))
	copy(out, e.ClassLabels)
	return out
}

// NClasses はクラス数を返す
func (e *LabelEncoder) NClasses() int {
	return len(e.ClassLabels)
}
