package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// MigrationPool is the minimal interface required to run migrations.
// *pgxpool.Pool satisfies this interface.
type MigrationPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect opens a pgxpool connection and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pgxpool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies every .sql file in migrationsDir that is not yet
// recorded in schema_migrations, in lexicographic order. Each file runs in its
// own transaction together with its bookkeeping row. It returns the names of
// the files applied by this call.
func RunMigrations(ctx context.Context, pool MigrationPool, migrationsDir string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir %s: %w", migrationsDir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(migrationsDir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Strings(files)

	err = inTx(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createMigrationsTable)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	var applied []string
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", f, err)
		}

		name := filepath.Base(f)
		ran, err := applyOnce(ctx, pool, name, string(sql))
		if err != nil {
			return applied, fmt.Errorf("executing migration %s: %w", f, err)
		}
		if ran {
			applied = append(applied, name)
		}
	}

	return applied, nil
}

func applyOnce(ctx context.Context, pool MigrationPool, name, sql string) (bool, error) {
	var ran bool
	err := inTx(ctx, pool, func(tx pgx.Tx) error {
		var done bool
		const q = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`
		if err := tx.QueryRow(ctx, q, name).Scan(&done); err != nil {
			return fmt.Errorf("checking migration state: %w", err)
		}
		if done {
			return nil
		}

		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		ran = true
		return nil
	})
	return ran, err
}

// inTx runs fn in a transaction, rolling back on failure.
func inTx(ctx context.Context, pool MigrationPool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
