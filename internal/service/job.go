package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
	apperrors "github.com/target/clipscore/internal/errors"
	"github.com/target/clipscore/internal/observability/metrics"
	"github.com/target/clipscore/internal/observability/statsd"
)

var (
	// ErrNoArtifact is returned by Submit when the request carries no input file.
	ErrNoArtifact = apperrors.ValidationField("video", "No video file provided")
	// ErrCreateFailed is returned by Submit when the job record could not be stored.
	ErrCreateFailed = apperrors.Internal("Failed to create job")
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo      core.JobRepository     // Required: job repository
	Artifacts core.ArtifactStore     // Required: uploaded input storage
	Queue     core.JobQueue          // Required: dispatch queue
	Cache     core.JobCache          // Optional: read-through cache of terminal jobs
	Events    core.JobEventPublisher // Optional: status fan-out
	Logger    *slog.Logger           // Optional: structured logger
	Metrics   statsd.Sink            // Optional: metrics sink (StatsD-compatible)
}

// JobService accepts submissions and answers status queries.
//
// Submit stores the upload, records a PENDING job and hands its id to the queue;
// processing happens later in a RunnerService.
type JobService struct {
	repo      core.JobRepository
	artifacts core.ArtifactStore
	queue     core.JobQueue
	cache     core.JobCache
	events    core.JobEventPublisher
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobService{
		repo:      opts.Repo,
		artifacts: opts.Artifacts,
		queue:     opts.Queue,
		cache:     opts.Cache,
		events:    opts.Events,
		logger:    logger.With("component", "job_service"),
		metrics:   opts.Metrics,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// SubmitRequest describes one upload.
type SubmitRequest struct {
	OwnerID string
	// Filename is the client-supplied name; only its extension is kept.
	Filename string
	Body     io.Reader
}

// Submit stores the upload as "<id><ext>", creates a PENDING job and enqueues it.
// It returns as soon as the job is durable. An enqueue failure is logged and not
// returned: the recovery sweep re-surfaces PENDING jobs that were never dispatched.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	if req.Body == nil {
		return nil, ErrNoArtifact
	}
	start := time.Now()

	owner := req.OwnerID
	if owner == "" {
		owner = model.GuestOwnerID
	}
	id := uuid.NewString()
	ref := model.InputRefFor(id, filepath.Ext(req.Filename))

	size, err := s.artifacts.Save(ctx, ref, req.Body)
	if err != nil {
		s.emitSubmit(err, start)
		return nil, fmt.Errorf("save upload: %w", err)
	}

	job, err := s.repo.Create(ctx, &model.CreateJobRequest{ID: id, OwnerID: owner, InputRef: ref})
	if err != nil {
		s.logger.ErrorContext(ctx, "create job failed", "job_id", id, "error", err)
		if rmErr := s.artifacts.Remove(ref); rmErr != nil {
			s.logger.WarnContext(ctx, "remove orphaned upload", "input_ref", ref, "error", rmErr)
		}
		s.emitSubmit(err, start)
		return nil, apperrors.Wrap(err, ErrCreateFailed.Code, ErrCreateFailed.Message)
	}

	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"input_ref", job.InputRef,
		"bytes", size,
	)
	publishJob(ctx, s.events, s.logger, job)

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.logger.WarnContext(ctx, "enqueue job failed; recovery sweep will resurface it",
			"job_id", job.ID, "error", err)
	}

	s.emitSubmit(nil, start)
	return job, nil
}

func (s *JobService) emitSubmit(err error, start time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: metrics.TransitionSubmit,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}

// GetByID returns a job, serving terminal jobs from the cache when one is configured.
// Cache failures are logged and fall through to the store.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "job cache read failed", "job_id", id, "error", err)
		case cached != nil:
			return cached, nil
		}
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if s.cache != nil && job.Status.Terminal() {
		if _, err := s.cache.Put(ctx, job); err != nil {
			s.logger.WarnContext(ctx, "job cache write failed", "job_id", id, "error", err)
		}
	}
	return job, nil
}

// ListByOwner returns an owner's jobs, newest first.
func (s *JobService) ListByOwner(ctx context.Context, opts model.JobListByOwnerOptions) ([]*model.Job, error) {
	if opts.OwnerID == "" {
		opts.OwnerID = model.GuestOwnerID
	}
	jobs, err := s.repo.ListByOwner(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns job counts by status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// publishJob fans a job snapshot out to subscribers. Failures only affect live views.
func publishJob(ctx context.Context, events core.JobEventPublisher, logger *slog.Logger, job *model.Job) {
	if events == nil || job == nil {
		return
	}
	if err := events.Publish(ctx, model.JobEvent{Type: model.JobEventUpdate, Job: job}); err != nil {
		logger.DebugContext(ctx, "publish job event failed", "job_id", job.ID, "error", err)
	}
}
