package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
	"github.com/target/clipscore/internal/observability/metrics"
	"github.com/target/clipscore/internal/observability/statsd"
)

// RunResult describes what Run did with a job id.
type RunResult string

const (
	// RunResultSkipped means the job could not be claimed; nothing was done.
	RunResultSkipped RunResult = "skipped"
	// RunResultCompleted means the job was finalized COMPLETED.
	RunResultCompleted RunResult = "completed"
	// RunResultFailed means the job was finalized FAILED.
	RunResultFailed RunResult = "failed"
	// RunResultAbandoned means the lease was lost mid-run and the job now belongs to
	// another runner; nothing was written.
	RunResultAbandoned RunResult = "abandoned"
)

// finalizeTimeout bounds the terminal write when the run context is already done.
const finalizeTimeout = 10 * time.Second

// RunnerServiceOptions groups dependencies for RunnerService.
type RunnerServiceOptions struct {
	Repo      core.JobRepository // Required: job repository
	Artifacts core.ArtifactStore // Required: uploaded input storage
	Processor core.Processor     // Required: external processor
	// DescribeFailure renders a processor error for storage. Defaults to err.Error().
	DescribeFailure func(error) string
	Cache           core.JobCache          // Optional: invalidated after finalize
	Events          core.JobEventPublisher // Optional: status fan-out
	Logger          *slog.Logger           // Optional: structured logger
	Metrics         statsd.Sink            // Optional: metrics sink (StatsD-compatible)
	// Lease is renewed every Heartbeat while the processor runs. Defaults to model.DefaultClaimLease.
	Lease time.Duration
	// Heartbeat defaults to Lease/3 and is capped at Lease/2.
	Heartbeat time.Duration
}

// RunnerService drives a single job from PENDING to a terminal status.
type RunnerService struct {
	repo            core.JobRepository
	artifacts       core.ArtifactStore
	processor       core.Processor
	describeFailure func(error) string
	cache           core.JobCache
	events          core.JobEventPublisher
	logger          *slog.Logger
	metrics         statsd.Sink
	lease           time.Duration
	heartbeat       time.Duration
}

// NewRunnerService constructs a new RunnerService.
func NewRunnerService(opts RunnerServiceOptions) (*RunnerService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("Processor is required")
	}

	describe := opts.DescribeFailure
	if describe == nil {
		describe = func(err error) string { return err.Error() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = model.DefaultClaimLease
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 || heartbeat > lease/2 {
		heartbeat = lease / 3
	}

	return &RunnerService{
		repo:            opts.Repo,
		artifacts:       opts.Artifacts,
		processor:       opts.Processor,
		describeFailure: describe,
		cache:           opts.Cache,
		events:          opts.Events,
		logger:          logger.With("component", "runner_service"),
		metrics:         opts.Metrics,
		lease:           lease,
		heartbeat:       max(heartbeat, time.Millisecond),
	}, nil
}

// MustNewRunnerService constructs a new RunnerService and panics on error.
func MustNewRunnerService(opts RunnerServiceOptions) *RunnerService {
	svc, err := NewRunnerService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create RunnerService: %v", err))
	}
	return svc
}

// Run claims the job, submits its input to the processor and records the outcome.
//
// A job that cannot be claimed is skipped. Once claimed, the input artifact is
// removed on every path out of Run except a lost lease, where the next owner still
// needs it; removal errors are logged only. The claim is renewed by heartbeats while
// the processor runs. An error is returned only when the store itself fails, in
// which case the job is left for the recovery sweep.
func (s *RunnerService) Run(ctx context.Context, id string) (RunResult, error) {
	start := time.Now()

	job, err := s.repo.Claim(ctx, id)
	if err != nil {
		s.emit(metrics.TransitionClaim, metrics.ResultError, 0, err)
		return "", fmt.Errorf("claim job %s: %w", id, err)
	}
	if job == nil {
		s.logger.InfoContext(ctx, "job could not be claimed", "job_id", id)
		s.emit(metrics.TransitionClaim, metrics.ResultNoop, 0, nil)
		return RunResultSkipped, nil
	}
	s.emit(metrics.TransitionClaim, metrics.ResultSuccess, 0, nil)
	publishJob(ctx, s.events, s.logger, job)

	keepInput := false
	defer func() {
		if !keepInput {
			s.removeInput(ctx, job)
		}
	}()

	workCtx, stop := s.keepClaim(ctx, job.ID)
	outcome := s.execute(workCtx, job)
	if lost := stop(); lost {
		keepInput = true
		s.logger.WarnContext(ctx, "job lease lost during processing", "job_id", job.ID)
		s.emit(metrics.TransitionAbandon, metrics.ResultNoop, time.Since(start), nil)
		return RunResultAbandoned, nil
	}

	final, err := s.finalize(ctx, job.ID, outcome)
	if err != nil {
		s.emit(transitionFor(outcome), metrics.ResultError, time.Since(start), err)
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, job.ID); err != nil {
			s.logger.WarnContext(ctx, "job cache invalidate failed", "job_id", job.ID, "error", err)
		}
	}
	publishJob(ctx, s.events, s.logger, final)

	if outcome.Status() == model.JobStatusCompleted {
		s.logger.InfoContext(ctx, "job completed", "job_id", job.ID, "elapsed", time.Since(start))
		s.emit(metrics.TransitionComplete, metrics.ResultSuccess, time.Since(start), nil)
		if p, ok := model.ParsePrediction(outcome.Result()); ok {
			metrics.EmitPrediction(s.metrics, *p.MeanScore)
		}
		return RunResultCompleted, nil
	}

	s.logger.WarnContext(ctx, "job failed", "job_id", job.ID, "error", outcome.Message())
	s.emit(metrics.TransitionFail, metrics.ResultSuccess, time.Since(start), nil)
	return RunResultFailed, nil
}

// keepClaim renews the job's lease until stop is called. When a heartbeat finds the
// job no longer PROCESSING the returned context is canceled and stop reports true.
// Heartbeat errors are logged and retried on the next tick.
func (s *RunnerService) keepClaim(ctx context.Context, id string) (context.Context, func() bool) {
	workCtx, cancel := context.WithCancel(ctx)
	var lost atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-workCtx.Done():
				return
			case <-ticker.C:
			}
			ok, err := s.repo.Heartbeat(workCtx, id, s.lease)
			if err != nil {
				if workCtx.Err() == nil {
					s.logger.WarnContext(ctx, "job heartbeat failed", "job_id", id, "error", err)
				}
				continue
			}
			if !ok {
				lost.Store(true)
				cancel()
				return
			}
		}
	}()

	return workCtx, func() bool {
		cancel()
		<-done
		return lost.Load()
	}
}

// execute locates the input and calls the processor, turning every failure into a
// FAILED outcome.
func (s *RunnerService) execute(ctx context.Context, job *model.Job) model.Outcome {
	path, err := s.artifacts.Locate(job.InputRef)
	if err != nil {
		s.logger.WarnContext(ctx, "input artifact missing", "job_id", job.ID, "input_ref", job.InputRef, "error", err)
		return model.FailedOutcome("input artifact not found: " + job.InputRef)
	}

	payload, err := s.processor.Process(ctx, core.ProcessRequest{
		JobID:    job.ID,
		Path:     path,
		Filename: job.InputRef,
	})
	if err != nil {
		return model.FailedOutcome(s.failureMessage(err))
	}

	outcome := model.CompletedOutcome(payload)
	if err := outcome.Validate(); err != nil {
		return model.FailedOutcome(err.Error())
	}
	return outcome
}

func (s *RunnerService) failureMessage(err error) string {
	if msg := s.describeFailure(err); msg != "" {
		return msg
	}
	return "processing failed"
}

// finalize writes the outcome even if ctx was canceled mid-run, so a shutdown does not
// strand a job in PROCESSING until the sweep.
func (s *RunnerService) finalize(ctx context.Context, id string, outcome model.Outcome) (*model.Job, error) {
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
	}
	job, err := s.repo.Finalize(writeCtx, id, outcome)
	if err != nil {
		return nil, fmt.Errorf("finalize job %s: %w", id, err)
	}
	return job, nil
}

func (s *RunnerService) removeInput(ctx context.Context, job *model.Job) {
	if err := s.artifacts.Remove(job.InputRef); err != nil {
		s.logger.WarnContext(ctx, "remove input artifact failed",
			"job_id", job.ID, "input_ref", job.InputRef, "error", err)
	}
}

func (s *RunnerService) emit(transition, result string, d time.Duration, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}

func transitionFor(o model.Outcome) string {
	if o.Status() == model.JobStatusCompleted {
		return metrics.TransitionComplete
	}
	return metrics.TransitionFail
}
