// Package dataset loads the historical wall specimen table from a
// spreadsheet, a CSV file or a Postgres table.
package dataset

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"squatwall/internal/domain"
)

// Columns is the expected header: twelve features in model column order
// followed by the target.
const Columns = domain.NumFeatures + 1

// Loader produces a fresh TrainingTable on every call.
type Loader interface {
	Load(ctx context.Context) (*domain.TrainingTable, error)
	// Source names the location for logs and fingerprints.
	Source() string
}

type Options struct {
	// Sheet selects the spreadsheet tab; empty means the first sheet.
	Sheet string
	// Table is the Postgres table holding the specimens.
	Table string
}

// IsPostgres reports whether location is a Postgres connection URL.
func IsPostgres(location string) bool {
	l := strings.ToLower(strings.TrimSpace(location))
	return strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://")
}

// New picks a loader for location by scheme or file extension. pool is only
// consulted for Postgres locations.
func New(location string, opts Options, pool Querier) (Loader, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, domain.NewDataLoadError("dataset location not configured", nil)
	}
	if IsPostgres(location) {
		if pool == nil {
			return nil, domain.NewDataLoadError("dataset source unavailable", fmt.Errorf("no database pool for %s", redact(location)))
		}
		return NewPostgresLoader(pool, opts.Table, redact(location)), nil
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".xlsx", ".xlsm":
		return NewFileLoader(location, FormatXLSX, opts.Sheet), nil
	case ".csv":
		return NewFileLoader(location, FormatCSV, ""), nil
	default:
		return nil, domain.NewDataLoadError("unsupported dataset format", fmt.Errorf("location %q", location))
	}
}

// redact drops credentials from a connection URL.
func redact(location string) string {
	at := strings.LastIndex(location, "@")
	scheme := strings.Index(location, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return location
	}
	return location[:scheme+3] + "***" + location[at:]
}

// parseRows turns a header row plus data rows into a table. The header must
// have exactly Columns names ending in V; feature headers are positional.
// Empty cells become NaN and wholly blank rows are skipped.
func parseRows(source string, rows [][]string) (*domain.TrainingTable, error) {
	if len(rows) == 0 {
		return nil, domain.NewDataLoadError("schema mismatch", fmt.Errorf("%s: no header row", source))
	}
	header := trimTrailingBlank(rows[0])
	if len(header) != Columns {
		return nil, domain.NewDataLoadError("schema mismatch",
			fmt.Errorf("%s: expected %d columns, found %d", source, Columns, len(header)))
	}
	if strings.TrimSpace(header[Columns-1]) != domain.TargetColumn {
		return nil, domain.NewDataLoadError("schema mismatch",
			fmt.Errorf("%s: last column must be %q, found %q", source, domain.TargetColumn, header[Columns-1]))
	}
	columns := make([]string, Columns)
	for i := range header {
		columns[i] = strings.TrimSpace(header[i])
	}

	records := make([]domain.TrainingRecord, 0, len(rows)-1)
	for r := 1; r < len(rows); r++ {
		cells := trimTrailingBlank(rows[r])
		if len(cells) == 0 {
			continue
		}
		if len(cells) > Columns {
			return nil, domain.NewDataLoadError("schema mismatch",
				fmt.Errorf("%s: row %d has %d cells", source, r+1, len(cells)))
		}
		var values [Columns]float64
		for c := range values {
			if c >= len(cells) {
				values[c] = math.NaN()
				continue
			}
			v, err := parseCell(cells[c])
			if err != nil {
				return nil, domain.NewDataLoadError("schema mismatch",
					fmt.Errorf("%s: row %d column %s: %w", source, r+1, columns[c], err))
			}
			values[c] = v
		}
		var rec domain.TrainingRecord
		copy(rec.Features[:], values[:domain.NumFeatures])
		rec.V = values[domain.NumFeatures]
		records = append(records, rec)
	}
	return &domain.TrainingTable{Source: source, Columns: columns, Records: records}, nil
}

func parseCell(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric cell %q", s)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("non-finite cell %q", s)
	}
	return v, nil
}

func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
