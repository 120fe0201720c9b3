// Package predictions stores the diagnostic log of served predictions.
package predictions

import (
	"context"
	"errors"

	"squatwall/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) Insert(ctx context.Context, entry domain.PredictionLogEntry) (*domain.PredictionLogEntry, error) {
	_, span := r.tracer.Start(ctx, "prediction-log.insert")
	defer span.End()
	span.SetAttributes(attribute.String("prediction.model", string(entry.Model)))

	if entry.Model == "" {
		return nil, errors.New("invalid prediction log entry")
	}
	if (entry.Value == nil) == (entry.ErrorKind == "") {
		return nil, errors.New("prediction log entry needs exactly one of value or error kind")
	}

	var errorKind pgtype.Text
	if entry.ErrorKind != "" {
		errorKind = pgtype.Text{String: string(entry.ErrorKind), Valid: true}
	}
	params := entry.Params
	if params == nil {
		params = []float64{}
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO prediction_log (
    model, params, value, error_kind, detail, fingerprint
) VALUES (
    $1, $2, $3, $4, $5, $6
)
RETURNING id, model, params, value, error_kind, detail, fingerprint, created_at`,
		string(entry.Model),
		params,
		entry.Value,
		errorKind,
		entry.Detail,
		entry.Fingerprint,
	)
	return scanEntry(row)
}

// ListRecent returns the newest entries first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.PredictionLogEntry, error) {
	_, span := r.tracer.Start(ctx, "prediction-log.list-recent")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, model, params, value, error_kind, detail, fingerprint, created_at
FROM prediction_log
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PredictionLogEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*domain.PredictionLogEntry, error) {
	var out domain.PredictionLogEntry
	var model string
	var value pgtype.Float8
	var errorKind pgtype.Text

	if err := s.Scan(
		&out.ID,
		&model,
		&out.Params,
		&value,
		&errorKind,
		&out.Detail,
		&out.Fingerprint,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	out.Model = domain.ModelSource(model)
	if value.Valid {
		v := value.Float64
		out.Value = &v
	}
	if errorKind.Valid {
		out.ErrorKind = domain.ErrorKind(errorKind.String)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return &out, nil
}
