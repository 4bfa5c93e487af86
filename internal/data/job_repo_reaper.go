package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/data/pgxutil"
	"github.com/target/clipscore/internal/domain/model"
)

// Advisory lock namespace for reaper operations.
// Major key 1000 is reserved for clipscore reaper operations.
const (
	advisoryLockReaperMajor             = 1000
	advisoryLockReaperRequeueProcessing = 1 // minor key for RequeueStaleProcessing
	advisoryLockReaperFailProcessing    = 2 // minor key for FailExhaustedProcessing
	advisoryLockReaperStalePending      = 3 // minor key for ListStalePending
)

func validateStaleProcessing(params core.StaleProcessingParams) error {
	if params.Grace < 0 {
		return errors.New("lease grace must not be negative")
	}
	if params.BatchSize <= 0 {
		return errors.New("batch size must be greater than zero")
	}
	if params.MaxRecoveries < 0 {
		return errors.New("max recoveries must not be negative")
	}
	return nil
}

// RequeueStaleProcessing returns PROCESSING jobs whose lease expired more than Grace ago
// and whose recovery_count is below MaxRecoveries to PENDING, incrementing recovery_count.
// A runner that keeps heartbeating is never reclaimed, however long it runs.
// Processes up to BatchSize jobs per call. Returns no ids when another reaper holds the lock.
func (r *JobRepo) RequeueStaleProcessing(ctx context.Context, params core.StaleProcessingParams) ([]string, error) {
	if err := validateStaleProcessing(params); err != nil {
		return nil, err
	}

	var ids []string
	err := r.withReaperLock(ctx, advisoryLockReaperRequeueProcessing, func(tx pgx.Tx) error {
		now := r.now()
		rows, err := tx.Query(ctx, `
			UPDATE jobs
			SET status = $1,
				claimed_at = NULL,
				lease_expires_at = NULL,
				recovery_count = recovery_count + 1,
				updated_at = $2
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $3
				  AND lease_expires_at < $4
				  AND recovery_count < $5
				ORDER BY lease_expires_at
				LIMIT $6
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id::text
		`, model.JobStatusPending, now, model.JobStatusProcessing,
			now.Add(-params.Grace), params.MaxRecoveries, params.BatchSize)
		if err != nil {
			return fmt.Errorf("requeue stale processing jobs: %w", err)
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FailExhaustedProcessing marks stale PROCESSING jobs that have used all of their
// recoveries as FAILED. Returns the number of jobs finalized.
func (r *JobRepo) FailExhaustedProcessing(ctx context.Context, params core.StaleProcessingParams) (int64, error) {
	if err := validateStaleProcessing(params); err != nil {
		return 0, err
	}

	var affected int64
	err := r.withReaperLock(ctx, advisoryLockReaperFailProcessing, func(tx pgx.Tx) error {
		now := r.now()
		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = $1,
				result = NULL,
				error = format('processing abandoned after %s recovery attempts', recovery_count),
				lease_expires_at = NULL,
				updated_at = $2
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $3
				  AND lease_expires_at < $4
				  AND recovery_count >= $5
				ORDER BY lease_expires_at
				LIMIT $6
				FOR UPDATE SKIP LOCKED
			)
		`, model.JobStatusFailed, now, model.JobStatusProcessing,
			now.Add(-params.Grace), params.MaxRecoveries, params.BatchSize)
		if err != nil {
			return fmt.Errorf("fail exhausted processing jobs: %w", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ListStalePending returns ids of PENDING jobs created more than MaxAge ago, oldest first.
func (r *JobRepo) ListStalePending(ctx context.Context, params core.StalePendingParams) ([]string, error) {
	if params.MaxAge <= 0 {
		return nil, errors.New("max age must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var ids []string
	err := r.withReaperLock(ctx, advisoryLockReaperStalePending, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id::text
			FROM jobs
			WHERE status = $1
			  AND created_at < $2
			ORDER BY created_at
			LIMIT $3
		`, model.JobStatusPending, r.now().Add(-params.MaxAge), params.BatchSize)
		if err != nil {
			return fmt.Errorf("list stale pending jobs: %w", err)
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// withReaperLock runs fn in a transaction holding the reaper advisory lock (major, minor).
// fn is skipped when the lock is held elsewhere.
func (r *JobRepo) withReaperLock(ctx context.Context, minor int32, fn func(pgx.Tx) error) error {
	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			locked, err := pgxutil.TryAdvisoryXactLock(ctx, tx, advisoryLockReaperMajor, minor)
			if err != nil {
				return err
			}
			if !locked {
				r.logger.DebugContext(ctx, "reaper lock held elsewhere", "minor", minor)
				return nil
			}
			return fn(tx)
		},
	})
}
