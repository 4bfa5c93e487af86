// Package jobrunner runs the worker pool that drains the dispatch queue.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
	"github.com/target/clipscore/internal/observability/statsd"
	"github.com/target/clipscore/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	defaultJobTimeout = 20 * time.Minute
	defaultPollWait   = 30 * time.Second
	ackTimeout        = 5 * time.Second
	dequeueBackoff    = time.Second
)

// JobRunner drives one job id to completion.
type JobRunner interface {
	Run(ctx context.Context, id string) (service.RunResult, error)
}

// InflightRecoverer is implemented by queues that track delivered but unacknowledged ids.
type InflightRecoverer interface {
	RecoverInflight(ctx context.Context) (int, error)
}

// RunnerOptions configures the worker pool.
type RunnerOptions struct {
	Queue  core.JobQueue // Required: dispatch queue
	Runner JobRunner     // Required: per-job driver
	Logger *slog.Logger

	Concurrency int           // number of worker goroutines; defaults to 1
	JobTimeout  time.Duration // bound on a single Run; defaults to 20m
	PollWait    time.Duration // how long Dequeue blocks before re-polling; defaults to 30s

	Metrics statsd.Sink
}

// Runner pulls job ids off the queue and hands them to a JobRunner.
type Runner struct {
	queue      core.JobQueue
	runner     JobRunner
	logger     *slog.Logger
	workers    int
	jobTimeout time.Duration
	pollWait   time.Duration
	backoff    time.Duration // pause after a failed dequeue or Run
	metrics    statsd.Sink
}

// NewRunner constructs a worker pool.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("job runner is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	pollWait := opts.PollWait
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}

	return &Runner{
		queue:      opts.Queue,
		runner:     opts.Runner,
		logger:     logger.With("component", "job_worker"),
		workers:    workers,
		jobTimeout: jobTimeout,
		pollWait:   pollWait,
		backoff:    dequeueBackoff,
		metrics:    opts.Metrics,
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled. Jobs already being
// processed are allowed to finish within their own timeout.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job workers", "workers", r.workers, "job_timeout", r.jobTimeout)

	if rec, ok := r.queue.(InflightRecoverer); ok {
		n, err := rec.RecoverInflight(ctx)
		switch {
		case err != nil:
			r.logger.WarnContext(ctx, "recover in-flight jobs failed", "error", err)
		case n > 0:
			r.logger.InfoContext(ctx, "recovered in-flight jobs", "count", n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}
	err := g.Wait()

	r.logger.InfoContext(ctx, "job workers stopped", "reason", ctx.Err())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context, worker int) error {
	logger := r.logger.With("worker", worker)
	for ctx.Err() == nil {
		id, err := r.queue.Dequeue(ctx, r.pollWait)
		switch {
		case err == nil:
			if runErr := r.processJob(ctx, logger, id); runErr != nil && !sleepCtx(ctx, r.backoff) {
				return nil
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
		case ctx.Err() != nil:
			return nil
		default:
			logger.WarnContext(ctx, "dequeue failed", "error", err)
			r.count("worker.dequeue_error")
			if !sleepCtx(ctx, r.backoff) {
				return nil
			}
		}
	}
	return nil
}

// processJob runs id and acknowledges it whatever the outcome. The job row is the
// source of truth: anything left PENDING or PROCESSING is recovered by the sweep.
// The Run error is returned so the worker can back off before the next dequeue.
func (r *Runner) processJob(ctx context.Context, logger *slog.Logger, id string) error {
	start := time.Now()
	result, err := r.runSafely(ctx, id)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		logger.ErrorContext(ctx, "job run failed", "job_id", id, "error", err, "elapsed", elapsed)
	default:
		logger.DebugContext(ctx, "job run finished", "job_id", id, "result", result, "elapsed", elapsed)
	}
	if r.metrics != nil {
		tags := map[string]string{"result": string(result)}
		if err != nil {
			tags["result"] = "error"
		}
		r.metrics.Timing("worker.run_duration", elapsed, tags)
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if ackErr := r.queue.Ack(ackCtx, id); ackErr != nil {
		logger.WarnContext(ctx, "ack job failed", "job_id", id, "error", ackErr)
	}
	return err
}

func (r *Runner) runSafely(ctx context.Context, id string) (result service.RunResult, err error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.jobTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.count("worker.panic")
			r.logger.ErrorContext(ctx, "job run panicked", "job_id", id, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", id, rec)
		}
	}()
	return r.runner.Run(jobCtx, id)
}

func (r *Runner) count(name string) {
	if r.metrics != nil {
		r.metrics.Count(name, 1, nil)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
