// Package core defines the ports of the clipscore job system.
package core

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/target/clipscore/internal/domain/model"
)

// This file contains the ports between the service layer and its adapters.
// Services depend on these interfaces, never on concrete implementations.

// JobRepository defines the persistence operations of the job store.
type JobRepository interface {
	// Create inserts a PENDING job, allocating an id when req.ID is empty.
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// Claim atomically moves a PENDING job to PROCESSING. It returns nil, nil when
	// the job does not exist or is not PENDING.
	Claim(ctx context.Context, id string) (*model.Job, error)
	// Heartbeat pushes the lease of a PROCESSING job to now+lease. It returns false
	// when the job is no longer PROCESSING.
	Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error)
	// Finalize unconditionally records a terminal outcome.
	Finalize(ctx context.Context, id string, outcome model.Outcome) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ListByOwner returns an owner's jobs, newest first.
	ListByOwner(ctx context.Context, opts model.JobListByOwnerOptions) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// JobCache holds terminal jobs for fast status reads.
type JobCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Put stores job only when it is terminal.
	Put(ctx context.Context, job *model.Job) (bool, error)
	Invalidate(ctx context.Context, id string) error
}

// StaleProcessingParams groups parameters for the processing recovery queries.
// A PROCESSING job is stale once its lease expired more than Grace ago.
type StaleProcessingParams struct {
	Grace         time.Duration
	MaxRecoveries int
	BatchSize     int
}

// StalePendingParams groups parameters for listing pending jobs whose dispatch may have been lost.
type StalePendingParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the recovery sweep queries.
type ReaperRepository interface {
	// RequeueStaleProcessing resets stale PROCESSING jobs that still have recoveries
	// left back to PENDING and returns their ids.
	RequeueStaleProcessing(ctx context.Context, params StaleProcessingParams) ([]string, error)
	// FailExhaustedProcessing finalizes stale PROCESSING jobs that used up their recoveries.
	FailExhaustedProcessing(ctx context.Context, params StaleProcessingParams) (int64, error)
	// ListStalePending returns ids of PENDING jobs created longer than MaxAge ago.
	ListStalePending(ctx context.Context, params StalePendingParams) ([]string, error)
}

// JobQueue is the durable dispatch channel between submission and runners.
type JobQueue interface {
	Enqueue(ctx context.Context, id string) error
	// Dequeue blocks up to wait for the next job id. It returns model.ErrNoJobsAvailable
	// when nothing arrived in time.
	Dequeue(ctx context.Context, wait time.Duration) (string, error)
	// Ack marks a dequeued id as handled.
	Ack(ctx context.Context, id string) error
}

// JobEventPublisher fans job status changes out to subscribers.
type JobEventPublisher interface {
	Publish(ctx context.Context, event model.JobEvent) error
}

// ArtifactStore holds uploaded input files until their job is processed.
type ArtifactStore interface {
	Save(ctx context.Context, ref string, r io.Reader) (int64, error)
	// Locate returns the filesystem path of ref, or an error wrapping
	// artifacts.ErrArtifactNotFound when it does not exist.
	Locate(ref string) (string, error)
	// Remove deletes ref. Removing a missing artifact is not an error.
	Remove(ref string) error
}

// ProcessRequest describes one submission to the external processor.
type ProcessRequest struct {
	JobID    string
	Path     string
	Filename string
}

// Processor submits an input artifact to the external processor and returns its payload.
type Processor interface {
	Process(ctx context.Context, req ProcessRequest) (json.RawMessage, error)
}
