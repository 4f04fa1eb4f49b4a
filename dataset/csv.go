// Package dataset は設備データのCSV取り込みと要約統計を提供する
package dataset

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
)

// ReadCSV はヘッダー付きCSVを読み込んでレコードに変換する
//
// ヘッダーには equipment.RequiredColumns がすべて必要で、足りない列は
// ValidationError にまとめて返す。数値に変換できないセルは欠損値になる。
func ReadCSV(r io.Reader) ([]equipment.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.NewValidationError("csv", "empty file", nil)
		}
		return nil, errors.NewValidationError("csv", "invalid header: "+err.Error(), nil)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range equipment.RequiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewValidationError("csv",
			"missing required columns: "+strings.Join(missing, ", "), missing)
	}

	var raw []equipment.RawRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewValidationError("csv", err.Error(), line)
		}
		if isBlank(row) {
			continue
		}
		rec := make(equipment.RawRecord, len(equipment.RequiredColumns))
		for _, col := range equipment.RequiredColumns {
			if i := columns[col]; i < len(row) {
				rec[col] = row[i]
			}
		}
		raw = append(raw, rec)
	}

	records, err := equipment.RecordsFromRaw(raw)
	if err != nil {
		return nil, err
	}
	log.GetLoggerWithName("dataset").Debug("csv loaded", log.SamplesKey, len(records))
	return records, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
