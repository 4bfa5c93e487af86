// Package pgxutil bridges database/sql pools to native pgx connections.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// TxConfig groups parameters for WithPgxTx.
type TxConfig struct {
	ReadOnly bool
	Fn       func(pgx.Tx) error
}

// WithPgxConn acquires a *pgx.Conn via the stdlib bridge and executes fn with it.
// The connection returns to the pool when fn returns.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, sql.ErrConnDone) {
			err = errors.Join(err, fmt.Errorf("release conn: %w", closeErr))
		}
	}()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T; expected *stdlib.Conn", dc)
		}
		return fn(std.Conn())
	})
}

// WithPgxTx runs cfg.Fn inside a pgx transaction. The transaction commits when Fn
// returns nil and rolls back otherwise.
func WithPgxTx(ctx context.Context, db *sql.DB, cfg TxConfig) error {
	if cfg.Fn == nil {
		return errors.New("transaction function is required")
	}
	opts := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if cfg.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}

	return WithPgxConn(ctx, db, func(conn *pgx.Conn) (err error) {
		tx, err := conn.BeginTx(ctx, opts)
		if err != nil {
			return fmt.Errorf("begin pgx tx: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback pgx tx: %w", rbErr))
			}
		}()

		if err = cfg.Fn(tx); err != nil {
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit pgx tx: %w", err)
		}
		return nil
	})
}

// TryAdvisoryXactLock attempts a transaction-scoped advisory lock on (major, minor).
// The lock is released automatically when tx ends.
func TryAdvisoryXactLock(ctx context.Context, tx pgx.Tx, major, minor int32) (bool, error) {
	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, $2)`, major, minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("try advisory lock (%d,%d): %w", major, minor, err)
	}
	return locked, nil
}
