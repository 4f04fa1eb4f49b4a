package dataset

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/equipml/equipment"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Range は1パラメータの範囲と標本標準偏差
type Range struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// TypeBreakdown は設備タイプごとの集計
type TypeBreakdown struct {
	Count          int     `json:"count"`
	AvgFlowrate    float64 `json:"avg_flowrate"`
	AvgPressure    float64 `json:"avg_pressure"`
	AvgTemperature float64 `json:"avg_temperature"`
	MinFlowrate    float64 `json:"min_flowrate"`
	MaxFlowrate    float64 `json:"max_flowrate"`
	MinPressure    float64 `json:"min_pressure"`
	MaxPressure    float64 `json:"max_pressure"`
	MinTemperature float64 `json:"min_temperature"`
	MaxTemperature float64 `json:"max_temperature"`
}

// Summary はクリーニング後のデータセットの要約統計
type Summary struct {
	Count               int                      `json:"count"`
	EquipmentTypesCount int                      `json:"equipment_types_count"`
	AvgFlowrate         float64                  `json:"avg_flowrate"`
	AvgPressure         float64                  `json:"avg_pressure"`
	AvgTemperature      float64                  `json:"avg_temperature"`
	TypeDistribution    map[string]int           `json:"type_distribution"`
	Ranges              map[string]Range         `json:"ranges"`
	TypeWiseBreakdown   map[string]TypeBreakdown `json:"type_wise_breakdown"`

	// Rows はクリーニング済みの行（学習用に保存する生データ）
	Rows []equipment.Row `json:"raw_data"`
}

// Summarize は学習と同じ規則でクリーニングしてから要約統計を計算する
// 行が1つしかない場合の標準偏差は0とする
func Summarize(records []equipment.Record) (Summary, error) {
	ds, err := equipment.Clean(records)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Count:             ds.Len(),
		TypeDistribution:  make(map[string]int),
		Ranges:            make(map[string]Range, len(equipment.Targets)),
		TypeWiseBreakdown: make(map[string]TypeBreakdown),
		Rows:              ds.Rows,
	}
	for _, target := range equipment.Targets {
		col := ds.Column(target)
		s.Ranges[target] = Range{
			Min:    floats.Min(col),
			Max:    floats.Max(col),
			StdDev: sampleStd(col),
		}
	}
	s.AvgFlowrate = equipment.Round2(stat.Mean(ds.Column(equipment.TargetFlowrate), nil))
	s.AvgPressure = equipment.Round2(stat.Mean(ds.Column(equipment.TargetPressure), nil))
	s.AvgTemperature = equipment.Round2(stat.Mean(ds.Column(equipment.TargetTemperature), nil))

	byType := make(map[string][]equipment.Row)
	for _, r := range ds.Rows {
		byType[r.Type] = append(byType[r.Type], r)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		sub := equipment.CleanedDataset{Rows: byType[t]}
		fl := sub.Column(equipment.TargetFlowrate)
		pr := sub.Column(equipment.TargetPressure)
		te := sub.Column(equipment.TargetTemperature)
		s.TypeDistribution[t] = sub.Len()
		s.TypeWiseBreakdown[t] = TypeBreakdown{
			Count:          sub.Len(),
			AvgFlowrate:    equipment.Round2(stat.Mean(fl, nil)),
			AvgPressure:    equipment.Round2(stat.Mean(pr, nil)),
			AvgTemperature: equipment.Round2(stat.Mean(te, nil)),
			MinFlowrate:    floats.Min(fl),
			MaxFlowrate:    floats.Max(fl),
			MinPressure:    floats.Min(pr),
			MaxPressure:    floats.Max(pr),
			MinTemperature: floats.Min(te),
			MaxTemperature: floats.Max(te),
		}
	}
	s.EquipmentTypesCount = len(types)
	return s, nil
}

func sampleStd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	sd := stat.StdDev(x, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}
