package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/clipscore/internal/data/pgxutil"
	"github.com/target/clipscore/internal/domain/model"
)

// ListByOwner returns an owner's jobs ordered newest first.
// Limit defaults to 50 and is capped at 1000; negative offsets are treated as zero.
func (r *JobRepo) ListByOwner(ctx context.Context, opts model.JobListByOwnerOptions) ([]*model.Job, error) {
	if opts.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	limit, offset := clampPage(opts.Limit, opts.Offset)

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE owner_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		`, opts.OwnerID, limit, offset)
		if err != nil {
			return err
		}
		jobs, err = collectJobs(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs for owner %s: %w", opts.OwnerID, err)
	}
	return jobs, nil
}

// Stats returns the number of jobs in each status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var stats model.JobStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3),
			count(*) FILTER (WHERE status = $4)
		FROM jobs
	`,
		model.JobStatusPending,
		model.JobStatusProcessing,
		model.JobStatusCompleted,
		model.JobStatusFailed,
	).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &stats, nil
}

// NextPending returns the id of the oldest PENDING job, or model.ErrNoJobsAvailable.
// Several callers may observe the same id; Claim decides which of them proceeds.
func (r *JobRepo) NextPending(ctx context.Context) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `
		SELECT id::text
		FROM jobs
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT 1
	`, model.JobStatusPending).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrNoJobsAvailable
		}
		return "", fmt.Errorf("next pending job: %w", err)
	}
	return id, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
