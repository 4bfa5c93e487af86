package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/clipscore/config"
	"github.com/target/clipscore/internal/core"
	obserrors "github.com/target/clipscore/internal/observability/errors"
	"github.com/target/clipscore/internal/observability/metrics"
	"github.com/target/clipscore/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Queue   core.JobQueue         // Required: re-dispatch of recovered jobs
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService is the recovery sweep.
//
// Each pass:
// - Returns PROCESSING jobs abandoned by a crashed runner to PENDING and re-enqueues them.
// - Fails abandoned PROCESSING jobs that have used up their recoveries.
// - Re-enqueues PENDING jobs whose dispatch was lost.
type ReaperService struct {
	repo    core.ReaperRepository
	queue   core.JobQueue
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"lease_grace", opts.Config.LeaseGrace,
			"max_recoveries", opts.Config.MaxRecoveries,
			"pending_resurface_age", opts.Config.PendingResurfaceAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		queue:   opts.Queue,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Spread instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
			}
		}
	}
}

// Sweep runs every recovery step once. Steps run independently: a failing step does
// not stop the others.
func (s *ReaperService) Sweep(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		results            = make([]sweepStepOutcome, 0, 3)
	)

	steps := []sweepStep{
		{fn: s.requeueStaleProcessing, label: "requeue stale processing jobs", metric: "requeue_processing"},
		{fn: s.failExhaustedProcessing, label: "fail exhausted processing jobs", metric: "fail_exhausted"},
		{fn: s.resurfaceStalePending, label: "resurface stale pending jobs", metric: "resurface_pending"},
	}

	for _, step := range steps {
		outcome := s.executeSweepStep(ctx, step)
		results = append(results, outcome)
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	s.emitSweepMetrics(results, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}
	return nil
}

type sweepFunc func(context.Context) (int64, error)

type sweepStep struct {
	fn     sweepFunc
	label  string
	metric string
}

type sweepStepOutcome struct {
	metric       string
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeSweepStep(ctx context.Context, step sweepStep) sweepStepOutcome {
	count, err := step.fn(ctx)
	outcome := sweepStepOutcome{
		metric:    step.metric,
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", step.label, err)
	}
	return outcome
}

func (s *ReaperService) staleProcessingParams() core.StaleProcessingParams {
	return core.StaleProcessingParams{
		Grace:         s.config.LeaseGrace,
		MaxRecoveries: s.config.MaxRecoveries,
		BatchSize:     s.config.BatchSize,
	}
}

// requeueStaleProcessing resets abandoned PROCESSING jobs and dispatches them again.
// Loops until a batch comes back empty.
func (s *ReaperService) requeueStaleProcessing(ctx context.Context) (int64, error) {
	var total int64
	for {
		ids, err := s.repo.RequeueStaleProcessing(ctx, s.staleProcessingParams())
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}
		total += int64(len(ids))
		s.enqueueAll(ctx, ids)

		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "requeued stale processing jobs",
			"count", total,
			"lease_grace", s.config.LeaseGrace,
		)
	}
	return total, nil
}

// failExhaustedProcessing finalizes abandoned jobs that have no recoveries left.
func (s *ReaperService) failExhaustedProcessing(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.repo.FailExhaustedProcessing(ctx, s.staleProcessingParams())
		if err != nil {
			return total, err
		}
		if count == 0 {
			break
		}
		total += count

		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "failed exhausted processing jobs",
			"count", total,
			"max_recoveries", s.config.MaxRecoveries,
		)
	}
	return total, nil
}

// resurfaceStalePending re-enqueues PENDING jobs older than the resurface age. Their
// rows are not modified, so a single batch per sweep is taken.
func (s *ReaperService) resurfaceStalePending(ctx context.Context) (int64, error) {
	ids, err := s.repo.ListStalePending(ctx, core.StalePendingParams{
		MaxAge:    s.config.PendingResurfaceAge,
		BatchSize: s.config.BatchSize,
	})
	if err != nil {
		return 0, err
	}
	s.enqueueAll(ctx, ids)

	if len(ids) > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "resurfaced stale pending jobs",
			"count", len(ids),
			"max_age", s.config.PendingResurfaceAge,
		)
	}
	return int64(len(ids)), nil
}

// enqueueAll dispatches ids, logging failures. A job that fails to enqueue stays
// PENDING and is picked up again by the next sweep.
func (s *ReaperService) enqueueAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, id); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "re-enqueue job failed", "job_id", id, "error", err)
		}
	}
}

func (s *ReaperService) emitSweepMetrics(results []sweepStepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, r := range results {
		total += r.count
		if firstErr == nil {
			firstErr = r.metricErr
		}
		metrics.EmitReaperSweep(s.metrics, r.metric, r.count, r.metricErr)
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.sweep", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
