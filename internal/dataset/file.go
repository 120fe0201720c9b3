package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"squatwall/internal/domain"
	"squatwall/internal/metrics"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// FileLoader reads the dataset from a local spreadsheet or CSV file.
type FileLoader struct {
	path   string
	format Format
	sheet  string
}

func NewFileLoader(path string, format Format, sheet string) *FileLoader {
	return &FileLoader{path: path, format: format, sheet: sheet}
}

func (l *FileLoader) Source() string { return l.path }

// Path is the file the loader reads, for change watching.
func (l *FileLoader) Path() string { return l.path }

func (l *FileLoader) Load(ctx context.Context) (*domain.TrainingTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	defer func() {
		metrics.DatasetLoadDuration.WithLabelValues(string(l.format)).Observe(time.Since(started).Seconds())
	}()

	if _, err := os.Stat(l.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewDataLoadError("dataset not found", err)
		}
		return nil, domain.NewDataLoadError("dataset unreadable", err)
	}

	var (
		rows [][]string
		err  error
	)
	switch l.format {
	case FormatCSV:
		rows, err = l.readCSV()
	case FormatXLSX:
		rows, err = l.readXLSX()
	default:
		err = fmt.Errorf("unsupported format %q", l.format)
	}
	if err != nil {
		return nil, domain.NewDataLoadError("dataset unreadable", err)
	}
	return parseRows(l.path, rows)
}

func (l *FileLoader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	// stored values, not the number-formatted display text
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func (l *FileLoader) readCSV() ([][]string, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}
