// Package errors はequipml全体のエラーハンドリングと警告システムを提供します。
// 学習パイプラインの失敗種別（データ不足、未学習、永続化失敗など）を型として表現し、
// cockroachdb/errors でスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("equipml-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
// nilを渡すと従来のハンドラに戻ります。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// DataConversionWarning は値が暗黙的に変換された場合（数値に変換できない文字列を欠損値として扱う等）の警告です。
type DataConversionWarning struct {
	Column string
	Value  interface{}
	Reason string
}

func (w *DataConversionWarning) Error() string {
	return fmt.Sprintf("column %q: value %v treated as missing. Reason: %s", w.Column, w.Value, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *DataConversionWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("column", w.Column).
		Interface("value", w.Value).
		Str("reason", w.Reason).
		Str("type", "DataConversionWarning")
}

// NewDataConversionWarning は新しいDataConversionWarningを作成します。
func NewDataConversionWarning(column string, value interface{}, reason string) *DataConversionWarning {
	return &DataConversionWarning{Column: column, Value: value, Reason: reason}
}

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、テスト分割の目的変数がすべて同じ値でR²の分母が0になる場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// UnknownLabelWarning は学習時に存在しなかったラベルが推論時に渡された場合の警告です。
// 回帰予測ではエラーにせず Fallback のコードで続行します。
type UnknownLabelWarning struct {
	Label    string
	Fallback int
}

func (w *UnknownLabelWarning) Error() string {
	return fmt.Sprintf("label %q was not seen during training; falling back to code %d", w.Label, w.Fallback)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UnknownLabelWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("label", w.Label).
		Int("fallback", w.Fallback).
		Str("type", "UnknownLabelWarning")
}

// NewUnknownLabelWarning は新しいUnknownLabelWarningを作成します。
func NewUnknownLabelWarning(label string, fallback int) *UnknownLabelWarning {
	return &UnknownLabelWarning{Label: label, Fallback: fallback}
}

// SplitFallbackWarning は層化分割ができず通常の分割にフォールバックした場合の警告です。
type SplitFallbackWarning struct {
	Reason string
}

func (w *SplitFallbackWarning) Error() string {
	return fmt.Sprintf("stratified split not possible, using plain split: %s", w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *SplitFallbackWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("reason", w.Reason).
		Str("type", "SplitFallbackWarning")
}

// NewSplitFallbackWarning は新しいSplitFallbackWarningを作成します。
func NewSplitFallbackWarning(reason string) *SplitFallbackWarning {
	return &SplitFallbackWarning{Reason: reason}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` や `Transform` を呼び出した場合のエラーです。
// バンドル全体が未学習の場合もこの型で表現します（NewNotTrainedError）。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("equipml: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// NewNotTrainedError はバンドルが学習済みでない場合のエラーを作成します。
func NewNotTrainedError(method string) error {
	return NewNotFittedError("Bundle", method)
}

// InsufficientDataError は学習に必要なサンプル数が足りない場合のエラーです。
// 学習は行われず、既存のバンドルはそのまま残ります。
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("equipml: %s: insufficient data: need at least %d samples, got %d", e.Op, e.Need, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *InsufficientDataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("need", e.Need).
		Int("got", e.Got).
		Str("type", "InsufficientDataError")
}

// NewInsufficientDataError は新しいInsufficientDataErrorを作成し、スタックトレースを付与します。
func NewInsufficientDataError(op string, need, got int) error {
	err := &InsufficientDataError{Op: op, Need: need, Got: got}
	return errors.WithStack(err)
}

// PersistenceError はバンドルの保存・読み込みに失敗した場合のエラーです。
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("equipml: %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("equipml: %s %q failed", e.Op, e.Key)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *PersistenceError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("key", e.Key).
		Str("type", "PersistenceError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewPersistenceError は新しいPersistenceErrorを作成し、スタックトレースを付与します。
func NewPersistenceError(op, key string, err error) error {
	return errors.WithStack(&PersistenceError{Op: op, Key: key, Err: err})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("equipml: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError は入力（CSVヘッダ、リクエストパラメータ等）の検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("equipml: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("equipml: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ModelError は機械学習モデルに関する一般的なエラーです。
// 学習中の数値的な失敗（ModelFitError）は Kind に KindFitFailed を持ちます。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

// KindFitFailed は学習中の失敗を表す ModelError.Kind です。
const KindFitFailed = "fit failed"

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("equipml: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("equipml: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// NewModelFitError は学習失敗を表すModelErrorを作成します。
func NewModelFitError(op string, err error) error {
	return NewModelError(op, KindFitFailed, err)
}

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Infを検出します。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "predict", "r2_score"）
	Values    []float64 // 問題のある値
	Iteration int       // 発生したイテレーション番号（ない場合は0）
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("equipml: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// Mark はエラーに参照エラーのマークを付与し、Is で判定できるようにします。
func Mark(err error, reference error) error {
	return errors.Mark(err, reference)
}

// ===========================================================================
//
//	種別判定
//
// ===========================================================================

// IsInsufficientData はエラーチェーンにInsufficientDataErrorが含まれるかを返します。
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return As(err, &target)
}

// IsNotFitted はエラーチェーンにNotFittedErrorが含まれるかを返します。
func IsNotFitted(err error) bool {
	var target *NotFittedError
	return As(err, &target)
}

// IsNotFound はバンドルが存在しないことを示すエラーかを返します。
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は特異行列の場合のエラーです。
	ErrSingularMatrix = New("singular matrix")

	// ErrNotFound は保存先にバンドルが存在しない場合のエラーです。
	ErrNotFound = New("bundle not found")

	// ErrUnknownLabel はエンコーダが学習していないラベルを受け取った場合のエラーです。
	ErrUnknownLabel = New("unknown label")
)
