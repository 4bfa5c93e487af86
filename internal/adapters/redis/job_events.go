package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
)

// JobEventsChannel is the pub/sub channel carrying job_update events.
const JobEventsChannel = "clipscore:job_events"

// JobEventBus relays job events between instances over Redis pub/sub.
type JobEventBus struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewJobEventBus constructs a bus on JobEventsChannel.
func NewJobEventBus(client redis.UniversalClient, logger *slog.Logger) (*JobEventBus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobEventBus{
		client:  client,
		channel: JobEventsChannel,
		logger:  logger.With("component", "redis_job_events"),
	}, nil
}

// Publish sends event to every subscribed instance.
func (b *JobEventBus) Publish(ctx context.Context, event model.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Relay forwards every event received on the channel to local until ctx ends.
// ready, when non-nil, is closed once the subscription is confirmed.
func (b *JobEventBus) Relay(ctx context.Context, local core.JobEventPublisher, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Debug("close job event subscription", "error", err)
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var event model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.WarnContext(ctx, "drop malformed job event", "error", err)
				continue
			}
			if err := local.Publish(ctx, event); err != nil {
				b.logger.DebugContext(ctx, "deliver job event", "error", err)
			}
		}
	}
}

var _ core.JobEventPublisher = (*JobEventBus)(nil)
