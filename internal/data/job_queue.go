package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/job"
	"github.com/target/clipscore/internal/domain/model"
)

// WaitForSubmission blocks until a job_submitted notification arrives or ctx ends.
func (r *JobRepo) WaitForSubmission(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Debug("release listen conn", "error", cerr)
		}
	}()

	quoted := pgx.Identifier{jobSubmittedChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobSubmittedChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			r.logger.Debug("unlisten failed", "channel", jobSubmittedChannel, "error", execErr)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// NotifySubmitted publishes id on the job_submitted channel.
func (r *JobRepo) NotifySubmitted(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, jobSubmittedChannel, id); err != nil {
		return fmt.Errorf("notify %s: %w", jobSubmittedChannel, err)
	}
	return nil
}

// PGJobQueueOptions configure a PGJobQueue.
type PGJobQueueOptions struct {
	Repo       *JobRepo
	WaitWindow time.Duration
	Logger     *slog.Logger
}

// PGJobQueue uses the jobs table itself as the durable queue: every PENDING row is
// queued work. Enqueue only wakes listeners; Dequeue returns the oldest PENDING id.
// Concurrent consumers may receive the same id, and Claim admits exactly one of them.
type PGJobQueue struct {
	repo     *JobRepo
	notifier *job.DefaultNotifier
	logger   *slog.Logger
}

// NewPGJobQueue constructs a Postgres-backed queue.
func NewPGJobQueue(opts PGJobQueueOptions) (*PGJobQueue, error) {
	if opts.Repo == nil {
		return nil, errors.New("job repository is required")
	}
	notifier, err := job.NewNotifier(job.NotifierOptions{
		Waiter:     opts.Repo,
		WaitWindow: opts.WaitWindow,
	})
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PGJobQueue{
		repo:     opts.Repo,
		notifier: notifier,
		logger:   logger.With("component", "pg_job_queue"),
	}, nil
}

// Enqueue notifies listeners that id is ready. The row itself is the durable record.
func (q *PGJobQueue) Enqueue(ctx context.Context, id string) error {
	return q.repo.NotifySubmitted(ctx, id)
}

// Dequeue returns the oldest PENDING job id, waiting up to wait for a submission.
func (q *PGJobQueue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	unsub, wake := q.notifier.Subscribe()
	defer unsub()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		id, err := q.repo.NextPending(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, model.ErrNoJobsAvailable) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", model.ErrNoJobsAvailable
		case _, ok := <-wake:
			if !ok {
				q.logger.DebugContext(ctx, "submission listener stopped")
				return "", model.ErrNoJobsAvailable
			}
		}
	}
}

// Ack is a no-op: the job row leaves the queue when Claim moves it out of PENDING.
func (q *PGJobQueue) Ack(context.Context, string) error { return nil }

// Close stops the shared listener and releases waiting consumers.
func (q *PGJobQueue) Close() {
	q.notifier.StopAll()
}

var _ core.JobQueue = (*PGJobQueue)(nil)
