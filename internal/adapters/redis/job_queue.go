// Package redis provides Redis-backed adapters for the clipscore job system.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
)

const (
	queueKeyPrefix     = "clipscore:queue:"
	defaultDequeueWait = time.Second
)

// JobQueueOptions configure a JobQueue.
type JobQueueOptions struct {
	Client redis.UniversalClient
	// Name namespaces the list keys. Defaults to "jobs".
	Name   string
	Logger *slog.Logger
}

// JobQueue is a reliable queue built from two Redis lists. Dequeue atomically moves
// an id from the ready list to the in-flight list; Ack removes it from in-flight.
// Ids left in flight by a crashed worker are returned by RecoverInflight.
type JobQueue struct {
	client   redis.UniversalClient
	ready    string
	inflight string
	logger   *slog.Logger
}

// NewJobQueue constructs a Redis-backed queue.
func NewJobQueue(opts JobQueueOptions) (*JobQueue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.Name
	if name == "" {
		name = "jobs"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		client:   opts.Client,
		ready:    queueKeyPrefix + name + ":ready",
		inflight: queueKeyPrefix + name + ":inflight",
		logger:   logger.With("component", "redis_job_queue"),
	}, nil
}

// Enqueue pushes id onto the ready list.
func (q *JobQueue) Enqueue(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("job id is required")
	}
	if err := q.client.LPush(ctx, q.ready, id).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks up to wait for the oldest ready id and moves it in flight.
func (q *JobQueue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	if wait <= 0 {
		wait = defaultDequeueWait
	}
	id, err := q.client.BLMove(ctx, q.ready, q.inflight, "RIGHT", "LEFT", wait).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", model.ErrNoJobsAvailable
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("redis blmove: %w", err)
	}
	return id, nil
}

// Ack removes id from the in-flight list.
func (q *JobQueue) Ack(ctx context.Context, id string) error {
	if err := q.client.LRem(ctx, q.inflight, 1, id).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

// RecoverInflight moves every in-flight id back to the ready list and returns how many
// moved. Call it when no other worker is consuming, typically at worker start; an id
// that is still being processed elsewhere is delivered twice and Claim drops the extra.
func (q *JobQueue) RecoverInflight(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.inflight, q.ready, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis lmove: %w", err)
		}
		moved++
	}
}

// Depth returns the lengths of the ready and in-flight lists.
func (q *JobQueue) Depth(ctx context.Context) (ready, inflight int64, err error) {
	pipe := q.client.Pipeline()
	readyCmd := pipe.LLen(ctx, q.ready)
	inflightCmd := pipe.LLen(ctx, q.inflight)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis llen: %w", err)
	}
	return readyCmd.Val(), inflightCmd.Val(), nil
}

var _ core.JobQueue = (*JobQueue)(nil)
