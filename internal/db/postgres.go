package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool is the shared connection pool, nil until InitPostgres succeeds.
var Pool *pgxpool.Pool

var (
	newPool = pgxpool.New
	pingDB  = func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.Ping(ctx)
	}
)

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pingDB(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// InitPostgres sets Pool from dsn. An empty dsn leaves Postgres disabled.
func InitPostgres(ctx context.Context, dsn string, logger *zap.Logger) error {
	if strings.TrimSpace(dsn) == "" {
		return nil
	}
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return err
	}
	Pool = pool
	logger.Info("connected to postgres")
	return nil
}
