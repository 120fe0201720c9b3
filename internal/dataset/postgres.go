package dataset

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"squatwall/internal/domain"
	"squatwall/internal/metrics"

	"github.com/jackc/pgx/v5"
)

// DefaultTable holds the specimens when no table is configured.
const DefaultTable = "wall_specimens"

// Querier is the slice of pgxpool.Pool the loader needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresLoader reads the specimens table, one row per record, in id order.
// NULL cells become NaN.
type PostgresLoader struct {
	pool   Querier
	table  string
	source string
}

func NewPostgresLoader(pool Querier, table, source string) *PostgresLoader {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	return &PostgresLoader{pool: pool, table: table, source: source}
}

func (l *PostgresLoader) Source() string { return l.source + "#" + l.table }

func (l *PostgresLoader) query() string {
	cols := make([]string, 0, Columns)
	for _, name := range domain.FeatureNames() {
		cols = append(cols, pgx.Identifier{name}.Sanitize())
	}
	cols = append(cols, "v")
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(cols, ", "), pgx.Identifier{l.table}.Sanitize())
}

func (l *PostgresLoader) Load(ctx context.Context) (*domain.TrainingTable, error) {
	started := time.Now()
	defer func() {
		metrics.DatasetLoadDuration.WithLabelValues("postgres").Observe(time.Since(started).Seconds())
	}()

	rows, err := l.pool.Query(ctx, l.query())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewDataLoadError("dataset unreadable", err)
	}
	defer rows.Close()

	var records []domain.TrainingRecord
	cells := make([]*float64, Columns)
	dest := make([]any, Columns)
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		for i := range cells {
			cells[i] = nil
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, domain.NewDataLoadError("schema mismatch", err)
		}
		var rec domain.TrainingRecord
		for i := 0; i < domain.NumFeatures; i++ {
			rec.Features[i] = orNaN(cells[i])
		}
		rec.V = orNaN(cells[domain.NumFeatures])
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDataLoadError("dataset unreadable", err)
	}

	columns := append(domain.FeatureNames(), domain.TargetColumn)
	return &domain.TrainingTable{Source: l.Source(), Columns: columns, Records: records}, nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Copier is the slice of pgxpool.Pool used to bulk load specimens.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyToPostgres appends every record of t to table with COPY. NaN cells
// are written as NULL so PostgresLoader reads them back as missing.
func CopyToPostgres(ctx context.Context, conn Copier, table string, t *domain.TrainingTable) (int64, error) {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	columns := append(domain.FeatureNames(), "v")
	rows := make([][]any, 0, t.Len())
	for _, r := range t.Records {
		row := make([]any, 0, Columns)
		for _, f := range r.Features {
			row = append(row, nullable(f))
		}
		rows = append(rows, append(row, nullable(r.V)))
	}
	n, err := conn.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
