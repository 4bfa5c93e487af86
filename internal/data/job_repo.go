// Package data implements the Postgres-backed job store.
package data

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/target/clipscore/internal/domain/model"
	apperrors "github.com/target/clipscore/internal/errors"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = apperrors.NotFound("job not found")
	// ErrInvalidOutcome is returned when Finalize receives an outcome that does not validate.
	ErrInvalidOutcome = errors.New("invalid job outcome")
)

// Postgres NOTIFY channel carrying ids of newly submitted or re-surfaced jobs.
const jobSubmittedChannel = "job_submitted"

// Listing bounds applied by ListByOwner.
const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger *slog.Logger
	Clock  Clock
	// Lease is the initial claim lease. Defaults to model.DefaultClaimLease.
	Lease time.Duration
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB     *sql.DB
	clock  Clock
	lease  time.Duration
	logger *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := cfg.Lease
	if lease <= 0 {
		lease = model.DefaultClaimLease
	}

	return &JobRepo{
		DB:     db,
		clock:  clock,
		lease:  lease,
		logger: logger.With("component", "job_repo"),
	}
}

func (r *JobRepo) now() time.Time {
	return r.clock.Now().UTC()
}

const jobColumns = `
  id,
  owner_id,
  input_ref,
  status,
  result,
  error,
  recovery_count,
  claimed_at,
  lease_expires_at,
  created_at,
  updated_at
`
