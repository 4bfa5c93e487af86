package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
)

func TestJobStore_LeaseSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewJobStore()
	store.Now = func() time.Time { return now }
	store.Lease = time.Minute
	ctx := context.Background()
	params := core.StaleProcessingParams{Grace: 10 * time.Second, MaxRecoveries: 1, BatchSize: 10}

	job, err := store.Create(ctx, &model.CreateJobRequest{OwnerID: "alice", InputRef: "a.mp4"})
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.LeaseExpiresAt)
	assert.Equal(t, now.Add(time.Minute), *claimed.LeaseExpiresAt)

	now = now.Add(50 * time.Second)
	ok, err := store.Heartbeat(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(65 * time.Second)
	ids, err := store.RequeueStaleProcessing(ctx, params)
	require.NoError(t, err)
	assert.Empty(t, ids, "renewed lease is still within grace")

	now = now.Add(10 * time.Second)
	ids, err = store.RequeueStaleProcessing(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, ids)

	got, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.LeaseExpiresAt)
	assert.Equal(t, 1, got.RecoveryCount)

	ok, err = store.Heartbeat(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat must not revive a recovered job")

	_, err = store.Claim(ctx, job.ID)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	failed, err := store.FailExhaustedProcessing(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	got, err = store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, got.CheckInvariant())
	require.NotNil(t, got.Error)
	assert.Equal(t, "processing abandoned after 1 recovery attempts", *got.Error)
}

func TestJobStore_HeartbeatRejectsNonPositiveLease(t *testing.T) {
	_, err := NewJobStore().Heartbeat(context.Background(), "x", 0)
	require.Error(t, err)
}
