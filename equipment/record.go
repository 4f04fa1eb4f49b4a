// Package equipment は設備パラメータモデルのパイプラインを提供する
//
// 設備レコードのクリーニング、タイプのエンコード、訓練/テスト分割、
// 回帰モデル（流量・圧力・温度）の候補選択、設備タイプ分類器の学習、
// バンドルの永続化、推論を扱う。
//
// 基本的な使い方:
//
//	records, _ := equipment.RecordsFromRaw(raw)
//	bundle, metrics, err := equipment.Train(records)
//	if err != nil {
//	    return err
//	}
//	pred, err := bundle.Predict("Pump")
package equipment

import (
	"math"
	"strings"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/spf13/cast"
)

// 入力列名
const (
	ColumnName        = "Equipment Name"
	ColumnType        = "Type"
	ColumnFlowrate    = "Flowrate"
	ColumnPressure    = "Pressure"
	ColumnTemperature = "Temperature"
)

// RequiredColumns はCSVなどの入力に必須の列
var RequiredColumns = []string{ColumnName, ColumnType, ColumnFlowrate, ColumnPressure, ColumnTemperature}

// 小文字の別名
var columnAliases = map[string]string{
	"name":        ColumnName,
	"type":        ColumnType,
	"flowrate":    ColumnFlowrate,
	"pressure":    ColumnPressure,
	"temperature": ColumnTemperature,
}

// Record は設備1台分の入力データ
// 数値フィールドが nil の場合は欠損値
type Record struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Flowrate    *float64 `json:"flowrate"`
	Pressure    *float64 `json:"pressure"`
	Temperature *float64 `json:"temperature"`
}

// RawRecord は列名から値へのマップ（CSV行やJSONオブジェクト）
type RawRecord map[string]any

// Float は数値フィールド用のポインタを返す
func Float(v float64) *float64 {
	return &v
}

// RecordsFromRaw は RawRecord を Record に変換する
//
// 数値は spf13/cast で変換し、変換できない値・空文字・NaN は欠損値として扱う
// （DataConversionWarning を発生させる）。Type 列がないレコードは ValidationError。
func RecordsFromRaw(raw []RawRecord) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for i, r := range raw {
		norm := normalizeKeys(r)
		typ, ok := norm[ColumnType]
		if !ok || typ == nil {
			return nil, errors.NewValidationError(ColumnType, "missing equipment type", i)
		}
		typeStr, err := cast.ToStringE(typ)
		if err != nil {
			return nil, errors.NewValidationError(ColumnType, "equipment type is not a string", typ)
		}

		records = append(records, Record{
			Name:        strings.TrimSpace(cast.ToString(norm[ColumnName])),
			Type:        strings.TrimSpace(typeStr),
			Flowrate:    ParseFloat(ColumnFlowrate, norm[ColumnFlowrate]),
			Pressure:    ParseFloat(ColumnPressure, norm[ColumnPressure]),
			Temperature: ParseFloat(ColumnTemperature, norm[ColumnTemperature]),
		})
	}
	return records, nil
}

func normalizeKeys(r RawRecord) RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		if canonical, ok := columnAliases[strings.ToLower(strings.TrimSpace(k))]; ok && k != canonical {
			if _, exists := r[canonical]; exists {
				continue
			}
			out[canonical] = v
			continue
		}
		out[k] = v
	}
	return out
}

// ParseFloat は1セル分の値を数値に変換する。変換できなければ nil
func ParseFloat(column string, v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		errors.Warn(errors.NewDataConversionWarning(column, v, "not numeric, treated as missing"))
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
