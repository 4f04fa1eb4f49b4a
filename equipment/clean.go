package equipment

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"gonum.org/v1/gonum/stat"
)

// 回帰の目的変数名（メトリクスや特徴量重要度のキーにも使う）
const (
	TargetFlowrate    = "flowrate"
	TargetPressure    = "pressure"
	TargetTemperature = "temperature"
)

// Targets は回帰の目的変数（学習順）
var Targets = []string{TargetFlowrate, TargetPressure, TargetTemperature}

const (
	// ZScoreThreshold を超える |z| を持つ行は外れ値として除外する
	ZScoreThreshold = 3.0
	// OutlierMinRows 以下の行数では外れ値除去を行わない
	OutlierMinRows = 5
)

// Row はクリーニング済みの1行
type Row struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Flowrate    float64 `json:"flowrate"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// Value は目的変数名に対応する値を返す
func (r Row) Value(target string) float64 {
	switch target {
	case TargetFlowrate:
		return r.Flowrate
	case TargetPressure:
		return r.Pressure
	case TargetTemperature:
		return r.Temperature
	}
	return math.NaN()
}

// CleanedDataset は欠損値がなく、外れ値を除いたデータセット
// 行の順序は入力の順序を保つ
type CleanedDataset struct {
	Rows []Row

	// Imputed は中央値で補完したセル数
	Imputed int
	// Dropped は外れ値として除外した行数
	Dropped int
}

// Len は行数を返す
func (d CleanedDataset) Len() int { return len(d.Rows) }

// Types は各行の設備タイプを返す
func (d CleanedDataset) Types() []string {
	out := make([]string, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Type
	}
	return out
}

// Column は目的変数の列を返す
func (d CleanedDataset) Column(target string) []float64 {
	out := make([]float64, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Value(target)
	}
	return out
}

// Records は Record に戻す（再クリーニングや保存用）
func (d CleanedDataset) Records() []Record {
	out := make([]Record, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = Record{
			Name:        r.Name,
			Type:        r.Type,
			Flowrate:    Float(r.Flowrate),
			Pressure:    Float(r.Pressure),
			Temperature: Float(r.Temperature),
		}
	}
	return out
}

// Clean は欠損値を列の中央値で補完し、行数が OutlierMinRows を超える場合は
// 3つの数値列のいずれかで |z| > ZScoreThreshold となる行を除外する
//
// z スコアは母標準偏差で計算する。分散0の列からは外れ値は出ない。
// 入力が空、ある列に数値が1つもない、または全行が除外された場合は InsufficientDataError。
func Clean(records []Record) (CleanedDataset, error) {
	if len(records) == 0 {
		return CleanedDataset{}, errors.NewInsufficientDataError("Clean", 1, 0)
	}

	columns := [][]*float64{
		make([]*float64, len(records)),
		make([]*float64, len(records)),
		make([]*float64, len(records)),
	}
	for i, r := range records {
		columns[0][i] = r.Flowrate
		columns[1][i] = r.Pressure
		columns[2][i] = r.Temperature
	}

	filled := make([][]float64, len(columns))
	imputed := 0
	for c, col := range columns {
		values, n, err := fillMedian(Targets[c], col)
		if err != nil {
			return CleanedDataset{}, err
		}
		filled[c] = values
		imputed += n
	}

	keep := make([]bool, len(records))
	for i := range keep {
		keep[i] = true
	}
	if len(records) > OutlierMinRows {
		for _, values := range filled {
			mean, std := stat.PopMeanStdDev(values, nil)
			if std == 0 {
				continue
			}
			for i, v := range values {
				if math.Abs((v-mean)/std) > ZScoreThreshold {
					keep[i] = false
				}
			}
		}
	}

	ds := CleanedDataset{Imputed: imputed}
	for i, r := range records {
		if !keep[i] {
			ds.Dropped++
			continue
		}
		ds.Rows = append(ds.Rows, Row{
			Name:        r.Name,
			Type:        r.Type,
			Flowrate:    filled[0][i],
			Pressure:    filled[1][i],
			Temperature: filled[2][i],
		})
	}
	if len(ds.Rows) == 0 {
		return CleanedDataset{}, errors.Wrap(
			errors.NewInsufficientDataError("Clean", 1, 0), "all rows removed as outliers")
	}

	log.GetLoggerWithName("equipment").Debug("dataset cleaned",
		log.OperationKey, log.OperationClean,
		log.SamplesKey, len(ds.Rows),
		log.DroppedKey, ds.Dropped,
		"imputed", imputed,
	)
	return ds, nil
}

// fillMedian は欠損値を中央値で埋めた列と補完数を返す
func fillMedian(column string, col []*float64) ([]float64, int, error) {
	present := make([]float64, 0, len(col))
	for _, v := range col {
		if v != nil {
			present = append(present, *v)
		}
	}
	if len(present) == 0 {
		return nil, 0, errors.Wrapf(errors.NewInsufficientDataError("Clean", 1, 0),
			"column %s has no numeric values", column)
	}
	m := Median(present)

	out := make([]float64, len(col))
	n := 0
	for i, v := range col {
		if v == nil {
			out[i] = m
			n++
			continue
		}
		out[i] = *v
	}
	return out, n, nil
}

// Median は中央値を返す（偶数個の場合は中央2値の平均）。空なら NaN
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
