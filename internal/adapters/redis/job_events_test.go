package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/internal/domain/model"
)

type collectingPublisher struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (c *collectingPublisher) Publish(_ context.Context, e model.JobEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collectingPublisher) snapshot() []model.JobEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.JobEvent(nil), c.events...)
}

func TestJobEventBus_RelaysPublishedEvents(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	bus, err := NewJobEventBus(client, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	local := &collectingPublisher{}
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- bus.Relay(ctx, local, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not confirmed")
	}

	job := &model.Job{ID: "job-1", OwnerID: "guest", Status: model.JobStatusProcessing}
	require.NoError(t, bus.Publish(ctx, model.JobEvent{Type: model.JobEventUpdate, Job: job}))

	require.Eventually(t, func() bool { return len(local.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := local.snapshot()[0]
	assert.Equal(t, model.JobEventUpdate, got.Type)
	require.NotNil(t, got.Job)
	assert.Equal(t, "job-1", got.Job.ID)
	assert.Equal(t, model.JobStatusProcessing, got.Job.Status)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestNewJobEventBusRequiresClient(t *testing.T) {
	_, err := NewJobEventBus(nil, nil)
	require.EqualError(t, err, "redis client is required")
}
