package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/clipscore/internal/data/pgxutil"
	"github.com/target/clipscore/internal/domain/model"
	apperrors "github.com/target/clipscore/internal/errors"
)

// Create inserts a new PENDING job. An id is allocated when req.ID is empty.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "validate create job request")
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO jobs (id, owner_id, input_ref, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			RETURNING `+jobColumns,
			id, req.OwnerID, req.InputRef, model.JobStatusPending, now,
		)
		if err != nil {
			return err
		}
		job, err = collectJob(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// Claim atomically transitions a PENDING job to PROCESSING with a single conditional
// UPDATE. It returns nil, nil when no PENDING job matched: already claimed, unknown id,
// or any other status.
func (r *JobRepo) Claim(ctx context.Context, id string) (*model.Job, error) {
	if !validJobID(id) {
		return nil, nil
	}
	now := r.now()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE jobs
			SET status = $2,
				claimed_at = $4,
				lease_expires_at = $5,
				updated_at = $4
			WHERE id = $1
			  AND status = $3
			RETURNING `+jobColumns,
			id, model.JobStatusProcessing, model.JobStatusPending, now, now.Add(r.lease),
		)
		if err != nil {
			return err
		}
		job, err = collectJob(rows)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	return job, nil
}

// Finalize records a terminal outcome unconditionally: it sets the status and the
// payload column matching the outcome and clears the other one.
func (r *JobRepo) Finalize(ctx context.Context, id string, outcome model.Outcome) (*model.Job, error) {
	if err := outcome.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutcome, err)
	}
	if !validJobID(id) {
		return nil, ErrJobNotFound
	}

	var (
		result any
		errMsg any
	)
	switch outcome.Status() {
	case model.JobStatusCompleted:
		result = outcome.Result()
	case model.JobStatusFailed:
		errMsg = outcome.Message()
	}
	now := r.now()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE jobs
			SET status = $2,
				result = $3,
				error = $4,
				lease_expires_at = NULL,
				updated_at = $5
			WHERE id = $1
			RETURNING `+jobColumns,
			id, outcome.Status(), result, errMsg, now,
		)
		if err != nil {
			return err
		}
		job, err = collectJob(rows)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize job %s: %w", id, err)
	}
	return job, nil
}

// Heartbeat extends the lease on a PROCESSING job to now+lease. It returns false when
// the job is no longer PROCESSING, meaning the claim was lost to the recovery sweep or
// the job was finalized elsewhere.
func (r *JobRepo) Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		return false, errors.New("lease must be positive")
	}
	if !validJobID(id) {
		return false, nil
	}
	now := r.now()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
			updated_at = $3
		WHERE id = $1
		  AND status = $4
	`, id, now.Add(lease), now, model.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if !validJobID(id) {
		return nil, ErrJobNotFound
	}

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		job, err = collectJob(rows)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func collectJob(rows pgx.Rows) (*model.Job, error) {
	return pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
}

// validJobID reports whether id can name a row; malformed ids never match.
func validJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
