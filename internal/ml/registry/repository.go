package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"squatwall/internal/ml/training"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunRecord is one persisted ensemble fit. Only the newest fit is active.
type RunRecord struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"run_id"`
	Fingerprint string          `json:"fingerprint"`
	Source      string          `json:"source"`
	SplitSeed   int64           `json:"split_seed"`
	TrainCount  int             `json:"train_count"`
	TestCount   int             `json:"test_count"`
	Hyperparams json.RawMessage `json:"hyperparams"`
	Cleaning    json.RawMessage `json:"cleaning"`
	Holdout     json.RawMessage `json:"holdout"`
	TrainedAt   time.Time       `json:"trained_at"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
}

// Repository persists fit runs in model_runs for diagnostics. The fitted
// trees themselves live only in the in-memory Cache.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

const runColumns = `id, run_id, fingerprint, source, split_seed, train_count, test_count,
       hyperparams_json, cleaning_json, holdout_json, trained_at, is_active, created_at`

// Record stores model as the active run, deactivating earlier runs.
func (r *Repository) Record(ctx context.Context, model *training.TrainedModel) (*RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "model-runs.record")
	defer span.End()

	if model == nil || model.RunID == "" || model.Fingerprint == "" {
		return nil, errors.New("invalid model run payload")
	}
	span.SetAttributes(attribute.String("model.run_id", model.RunID))

	hyperparams, err := json.Marshal(model.Hyperparams)
	if err != nil {
		return nil, err
	}
	cleaning, err := json.Marshal(model.Cleaning)
	if err != nil {
		return nil, err
	}
	holdout, err := json.Marshal(model.Holdout)
	if err != nil {
		return nil, err
	}

	t, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer t.Rollback(ctx)

	out, err := insertActive(ctx, t, model, hyperparams, cleaning, holdout)
	if err != nil {
		return nil, err
	}
	if err := t.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func insertActive(ctx context.Context, t tx, model *training.TrainedModel, hyperparams, cleaning, holdout []byte) (*RunRecord, error) {
	if _, err := t.Exec(ctx, `UPDATE model_runs SET is_active = FALSE WHERE is_active`); err != nil {
		return nil, err
	}
	row := t.QueryRow(ctx, `
INSERT INTO model_runs (
    run_id, fingerprint, source, split_seed, train_count, test_count,
    hyperparams_json, cleaning_json, holdout_json, trained_at, is_active
) VALUES (
    $1, $2, $3, $4, $5, $6,
    $7, $8, $9, COALESCE($10, NOW()), TRUE
)
RETURNING `+runColumns,
		model.RunID,
		model.Fingerprint,
		model.Source,
		model.SplitSeed,
		model.TrainCount,
		model.TestCount,
		string(hyperparams),
		string(cleaning),
		string(holdout),
		nullIfZeroTime(model.TrainedAt),
	)
	return scanRun(row)
}

// ListRuns returns the newest runs first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "model-runs.list")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+runColumns+`
FROM model_runs
ORDER BY trained_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ActiveRun returns the active run, or nil when nothing has been recorded.
func (r *Repository) ActiveRun(ctx context.Context) (*RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "model-runs.active")
	defer span.End()

	rec, err := scanRun(r.pool.QueryRow(ctx, `
SELECT `+runColumns+`
FROM model_runs
WHERE is_active
ORDER BY id DESC
LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var out RunRecord
	var hyperparams, cleaning, holdout string
	if err := s.Scan(
		&out.ID,
		&out.RunID,
		&out.Fingerprint,
		&out.Source,
		&out.SplitSeed,
		&out.TrainCount,
		&out.TestCount,
		&hyperparams,
		&cleaning,
		&holdout,
		&out.TrainedAt,
		&out.IsActive,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	out.Hyperparams = fallbackJSON(hyperparams)
	out.Cleaning = fallbackJSON(cleaning)
	out.Holdout = fallbackJSON(holdout)
	out.TrainedAt = out.TrainedAt.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	return &out, nil
}

func fallbackJSON(v string) json.RawMessage {
	if v == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(v)
}

func nullIfZeroTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}
