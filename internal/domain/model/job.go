// Package model defines the core data types and structures used throughout the clipscore job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be claimed by a runner.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusProcessing indicates a runner has claimed the job and is processing it.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted indicates the external processor returned a result.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates processing ended with an error.
	JobStatusFailed JobStatus = "FAILED"
)

// DefaultClaimLease is how long a claim stays valid without a heartbeat.
const DefaultClaimLease = 2 * time.Minute

// GuestOwnerID is the owner recorded for unauthenticated submissions.
const GuestOwnerID = "guest"

// ErrNoJobsAvailable is returned when no jobs are available for dispatch.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions can occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one submitted video tracked through processing.
type Job struct {
	ID            string          `json:"id"                         db:"id"`
	OwnerID       string          `json:"owner_id"                   db:"owner_id"`
	InputRef      string          `json:"input_ref"                  db:"input_ref"`
	Status        JobStatus       `json:"status"                     db:"status"`
	Result        json.RawMessage `json:"result,omitempty"           db:"result"`
	Error         *string         `json:"error,omitempty"            db:"error"`
	RecoveryCount int             `json:"recovery_count"             db:"recovery_count"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"       db:"claimed_at"`
	// LeaseExpiresAt is set while PROCESSING and pushed forward by runner heartbeats.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"                 db:"updated_at"`
}

// CheckInvariant verifies that result and error are mutually exclusive and only
// populated once the job reached a terminal status.
func (j *Job) CheckInvariant() error {
	hasResult := len(j.Result) > 0
	hasError := j.Error != nil
	switch j.Status {
	case JobStatusPending, JobStatusProcessing:
		if hasResult || hasError {
			return fmt.Errorf("job %s: %s job must not carry result or error", j.ID, j.Status)
		}
	case JobStatusCompleted:
		if !hasResult || hasError {
			return fmt.Errorf("job %s: completed job must carry only a result", j.ID)
		}
	case JobStatusFailed:
		if hasResult || !hasError {
			return fmt.Errorf("job %s: failed job must carry only an error", j.ID)
		}
	default:
		return fmt.Errorf("job %s: invalid status %q", j.ID, j.Status)
	}
	return nil
}

// CreateJobRequest represents a request to create a new job.
// ID is optional; the store allocates one when it is empty.
type CreateJobRequest struct {
	ID       string `json:"id,omitempty"`
	OwnerID  string `json:"owner_id"`
	InputRef string `json:"input_ref"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(r.InputRef) == "" {
		return errors.New("input reference is required")
	}
	if r.ID != "" {
		if _, err := uuid.Parse(r.ID); err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
	}
	return nil
}

// InputRefFor derives the stored artifact name for a job id and the original file extension.
func InputRefFor(id, ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return id + ext
}

// JobStats represents counts of jobs in each status.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobListByOwnerOptions groups parameters for listing an owner's jobs.
type JobListByOwnerOptions struct {
	OwnerID string
	Limit   int
	Offset  int
}

// JobEventType names a job event published to status subscribers.
type JobEventType string

// JobEventUpdate is published whenever a job changes status.
const JobEventUpdate JobEventType = "job_update"

// JobEvent is the message broadcast to status subscribers.
type JobEvent struct {
	Type JobEventType `json:"type"`
	Job  *Job         `json:"job"`
}

// Prediction is the typed view of a processor result. Results are stored verbatim;
// this view is only used for metrics and never validated.
type Prediction struct {
	PredScores []float64 `json:"pred_scores"`
	MeanScore  *float64  `json:"mean_score"`
}

// ParsePrediction decodes a processor result, reporting false when it does not
// carry a mean score.
func ParsePrediction(raw json.RawMessage) (Prediction, bool) {
	var p Prediction
	if len(raw) == 0 {
		return p, false
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, false
	}
	return p, p.MeanScore != nil
}
