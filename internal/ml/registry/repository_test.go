package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"squatwall/internal/ml/training"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("unexpected scan target")
		}
	}
	return nil
}

type fakeTx struct {
	pgx.Tx
	execs     []string
	args      []any
	row       fakeRow
	committed bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.execs = append(t.execs, sql)
	t.args = args
	return t.row
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct {
	tx  *fakeTx
	row fakeRow
	sql string
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.sql = sql
	return p.row
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) { return p.tx, nil }

func runRow(active bool) fakeRow {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	return fakeRow{values: []any{
		int64(7), "run-1", "fp", "data.xlsx", int64(500), 42, 18,
		`{"n_estimators":100}`, "", `{"rmse":12.5}`, ts, active, ts,
	}}
}

func TestRecordActivatesRun(t *testing.T) {
	tx := &fakeTx{row: runRow(true)}
	repo := NewRepository(&fakePool{tx: tx}, trace.NewNoopTracerProvider().Tracer("test"))

	rec, err := repo.Record(context.Background(), &training.TrainedModel{
		RunID:       "run-1",
		Fingerprint: "fp",
		Source:      "data.xlsx",
		SplitSeed:   500,
		TrainCount:  42,
		TestCount:   18,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
	if len(tx.execs) != 2 || !strings.Contains(tx.execs[0], "SET is_active = FALSE") {
		t.Fatalf("expected deactivation before insert, got %v", tx.execs)
	}
	if tx.args[9] != nil {
		t.Fatalf("zero trained_at should be sent as NULL, got %v", tx.args[9])
	}
	if rec.ID != 7 || !rec.IsActive || rec.TrainCount != 42 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if string(rec.Cleaning) != "{}" || string(rec.Holdout) != `{"rmse":12.5}` {
		t.Fatalf("unexpected json columns: %s %s", rec.Cleaning, rec.Holdout)
	}
	if rec.TrainedAt.Location() != time.UTC {
		t.Fatal("expected UTC timestamps")
	}
}

func TestRecordRejectsIncompleteModel(t *testing.T) {
	repo := NewRepository(&fakePool{tx: &fakeTx{}}, trace.NewNoopTracerProvider().Tracer("test"))
	if _, err := repo.Record(context.Background(), &training.TrainedModel{RunID: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := repo.Record(context.Background(), nil); err == nil {
		t.Fatal("expected validation error for nil model")
	}
}

func TestActiveRunNone(t *testing.T) {
	p := &fakePool{row: fakeRow{err: pgx.ErrNoRows}}
	repo := NewRepository(p, trace.NewNoopTracerProvider().Tracer("test"))
	rec, err := repo.ActiveRun(context.Background())
	if err != nil || rec != nil {
		t.Fatalf("expected nil run, got %+v %v", rec, err)
	}
	if !strings.Contains(p.sql, "WHERE is_active") {
		t.Fatalf("unexpected query %s", p.sql)
	}

	p.row = runRow(true)
	rec, err = repo.ActiveRun(context.Background())
	if err != nil || rec == nil || rec.RunID != "run-1" {
		t.Fatalf("unexpected active run %+v %v", rec, err)
	}
}
