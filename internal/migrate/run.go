// Package migrate applies the SQL schema embedded in the binary.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// migration is one embedded SQL file; its version is the file name without extension.
type migration struct {
	version string
	file    string
}

// Run applies every embedded migration that has not been recorded yet.
// It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB) error {
	return RunWithLogger(ctx, db, slog.Default())
}

// RunWithLogger is Run with an explicit logger.
func RunWithLogger(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	if err := ensureVersionTable(ctx, db); err != nil {
		return err
	}

	pending, err := Pending(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if applyErr := apply(ctx, db, m, logger); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// Pending returns the embedded migrations not yet recorded in schema_migrations, in order.
func Pending(ctx context.Context, db *sql.DB) ([]string, error) {
	all, err := embedded()
	if err != nil {
		return nil, err
	}
	if ensureErr := ensureVersionTable(ctx, db); ensureErr != nil {
		return nil, ensureErr
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(all))
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m.file)
		}
	}
	return pending, nil
}

func embedded() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		out = append(out, migration{version: strings.TrimSuffix(e.Name(), ".sql"), file: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if scanErr := rows.Scan(&v); scanErr != nil {
			return nil, fmt.Errorf("scan applied migration: %w", scanErr)
		}
		applied[v] = true
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", rowsErr)
	}
	return applied, nil
}

// apply runs one migration file and records its version in the same transaction.
func apply(ctx context.Context, db *sql.DB, file string, logger *slog.Logger) (err error) {
	version := strings.TrimSuffix(file, ".sql")
	body, err := migrationsFS.ReadFile(path.Join(migrationsDir, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", file, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback %s: %w", file, rbErr))
		}
	}()

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}
