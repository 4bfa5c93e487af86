package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/config"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/mocks/memory"
)

type fakeReaperRepo struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReaperRepo) RequeueStaleProcessing(context.Context, core.StaleProcessingParams) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return []string{"job-1"}, nil
	}
	return nil, nil
}

func (f *fakeReaperRepo) FailExhaustedProcessing(context.Context, core.StaleProcessingParams) (int64, error) {
	return 0, nil
}

func (f *fakeReaperRepo) ListStalePending(context.Context, core.StalePendingParams) ([]string, error) {
	return nil, nil
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Queue: memory.NewQueue(1)})
	require.EqualError(t, err, "database connection is required")

	_, err = NewRunner(RunnerOptions{Repo: &fakeReaperRepo{}})
	require.EqualError(t, err, "job queue is required")
}

func TestRunner_RunSweepsAndStops(t *testing.T) {
	queue := memory.NewQueue(4)
	r, err := NewRunner(RunnerOptions{
		Repo:  &fakeReaperRepo{},
		Queue: queue,
		Config: config.ReaperConfig{
			Interval:            50 * time.Millisecond,
			LeaseGrace:          time.Minute,
			MaxRecoveries:       1,
			PendingResurfaceAge: time.Minute,
			BatchSize:           10,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.Pending() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}
