package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"squatwall/internal/domain"
)

// WriteCSV writes table in the layout FileLoader reads back: the header row,
// then one row per record with missing cells left empty.
func WriteCSV(w io.Writer, table *domain.TrainingTable) error {
	cw := csv.NewWriter(w)
	header := table.Columns
	if len(header) == 0 {
		header = append(domain.FeatureNames(), domain.TargetColumn)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, Columns)
	for _, r := range table.Records {
		for i, x := range r.Features {
			row[i] = formatCell(x)
		}
		row[domain.NumFeatures] = formatCell(r.V)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
