package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"squatwall/internal/config"
	"squatwall/internal/dataset"
	"squatwall/internal/db"
	"squatwall/internal/domain"
	"squatwall/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// database is the slice of pgxpool.Pool the migrator uses.
type database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

var (
	loadEnvFunc = godotenv.Load
	openDB      = func(ctx context.Context, dsn string) (database, error) {
		return db.Connect(ctx, dsn)
	}
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func main() {
	_ = loadEnvFunc()
	if err := newRootCmd(config.Load()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		dsn    string
		logger *zap.Logger
	)
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the squat wall database schema and specimen data",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsn, "database-url", cfg.DatabaseURL, "Postgres connection URL (defaults to DATABASE_URL)")

	// withDB opens the database, makes sure schema_migrations exists and
	// hands both to fn.
	withDB := func(cmd *cobra.Command, fn func(ctx context.Context, conn database) error) error {
		if strings.TrimSpace(dsn) == "" {
			return errors.New("DATABASE_URL is required")
		}
		ctx := cmd.Context()
		conn, err := openDB(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer conn.Close()
		if err := ensureMigrationTable(ctx, conn); err != nil {
			return fmt.Errorf("ensure schema_migrations table: %w", err)
		}
		return fn(ctx, conn)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, err := loadMigrations(migrationsFS)
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			return withDB(cmd, func(ctx context.Context, conn database) error {
				applied, err := applyUp(ctx, conn, migrations)
				if err != nil {
					return fmt.Errorf("apply migrations up: %w", err)
				}
				logger.Info("migrations up complete", zap.Int("applied", applied))
				return nil
			})
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the newest migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid down steps: %q", args[0])
				}
				steps = n
			}
			migrations, err := loadMigrations(migrationsFS)
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			return withDB(cmd, func(ctx context.Context, conn database) error {
				rolledBack, err := applyDown(ctx, conn, migrations, steps)
				if err != nil {
					return fmt.Errorf("apply migrations down: %w", err)
				}
				logger.Info("migrations down complete", zap.Int("rolled_back", rolledBack))
				return nil
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the newest applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, conn database) error {
				v, name, err := currentVersion(ctx, conn)
				if err != nil {
					return fmt.Errorf("read current version: %w", err)
				}
				if v == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current version: %d (%s)\n", v, name)
				return nil
			})
		},
	}

	var (
		tableName string
		sheet     string
		truncate  bool
	)
	seed := &cobra.Command{
		Use:   "seed <dataset.xlsx|dataset.csv>",
		Short: "Copy a specimen spreadsheet into the specimens table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset.IsPostgres(args[0]) {
				return errors.New("seed reads a spreadsheet or CSV file")
			}
			loader, err := dataset.New(args[0], dataset.Options{Sheet: sheet}, nil)
			if err != nil {
				return err
			}
			specimens, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			return withDB(cmd, func(ctx context.Context, conn database) error {
				n, err := seedSpecimens(ctx, conn, tableName, truncate, specimens)
				if err != nil {
					return err
				}
				logger.Info("specimens seeded",
					zap.String("source", loader.Source()),
					zap.String("table", tableName),
					zap.Int64("rows", n),
				)
				return nil
			})
		},
	}
	seed.Flags().StringVar(&tableName, "table", cfg.DatasetTable, "Destination table")
	seed.Flags().StringVar(&sheet, "sheet", cfg.DatasetSheet, "Spreadsheet tab (default first sheet)")
	seed.Flags().BoolVar(&truncate, "truncate", false, "Empty the table before copying")

	root.AddCommand(up, down, version, seed)
	return root
}

// seedSpecimens copies the loaded specimens into tableName, optionally
// emptying it first, in one transaction.
func seedSpecimens(ctx context.Context, conn database, tableName string, truncate bool, specimens *domain.TrainingTable) (int64, error) {
	if strings.TrimSpace(tableName) == "" {
		tableName = dataset.DefaultTable
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if truncate {
		if _, err := tx.Exec(ctx, "TRUNCATE "+pgx.Identifier{tableName}.Sanitize()); err != nil {
			return 0, fmt.Errorf("truncate %s: %w", tableName, err)
		}
	}
	n, err := dataset.CopyToPostgres(ctx, tx, tableName, specimens)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func ensureMigrationTable(ctx context.Context, conn database) error {
	_, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     BIGINT PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`)
	return err
}

var migrationFile = regexp.MustCompile(`^migrations/([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// loadMigrations pairs NNNN_name.up.sql with NNNN_name.down.sql and orders
// the pairs by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no migration files found")
	}

	index := make(map[int64]*migration)
	for _, p := range paths {
		m := migrationFile.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename: %s", p)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version in %s: %w", p, err)
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		sqlText := strings.TrimSpace(string(body))
		if sqlText == "" {
			return nil, fmt.Errorf("empty migration file: %s", p)
		}

		entry, ok := index[version]
		if !ok {
			entry = &migration{Version: version, Name: m[2]}
			index[version] = entry
		} else if entry.Name != m[2] {
			return nil, fmt.Errorf("conflicting names for version %d: %s vs %s", version, entry.Name, m[2])
		}

		target := &entry.UpSQL
		if m[3] == "down" {
			target = &entry.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", m[3], version)
		}
		*target = sqlText
	}

	migrations := make([]migration, 0, len(index))
	for _, m := range index {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration version %d must include both up and down files", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func appliedVersions(ctx context.Context, conn database, query string, args ...any) ([]int64, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// inTx runs stmt followed by the bookkeeping statement in one transaction.
func inTx(ctx context.Context, conn database, stmt string, book string, args ...any) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, book, args...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func applyUp(ctx context.Context, conn database, migrations []migration) (int, error) {
	versions, err := appliedVersions(ctx, conn, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, err
	}
	done := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		done[v] = struct{}{}
	}

	applied := 0
	for _, m := range migrations {
		if _, ok := done[m.Version]; ok {
			continue
		}
		if err := inTx(ctx, conn, m.UpSQL,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return applied, fmt.Errorf("version %d up failed: %w", m.Version, err)
		}
		applied++
	}
	return applied, nil
}

func applyDown(ctx context.Context, conn database, migrations []migration, steps int) (int, error) {
	if steps <= 0 {
		return 0, fmt.Errorf("steps must be > 0")
	}
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	versions, err := appliedVersions(ctx, conn,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return 0, err
	}

	rolledBack := 0
	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			return rolledBack, fmt.Errorf("cannot find migration source for applied version %d", v)
		}
		if err := inTx(ctx, conn, m.DownSQL,
			`DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
			return rolledBack, fmt.Errorf("version %d down failed: %w", m.Version, err)
		}
		rolledBack++
	}
	return rolledBack, nil
}

func currentVersion(ctx context.Context, conn database) (int64, string, error) {
	var version int64
	var name string
	err := conn.QueryRow(ctx, `SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &name)
	if err == nil {
		return version, name, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	return 0, "", err
}
