package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/internal/domain/model"
	"github.com/target/clipscore/internal/testutil"
)

func TestRedisJobCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	cache := NewRedisJobCache(client, time.Minute)
	ctx := context.Background()
	msg := "processor unavailable"

	t.Run("terminal job round trip", func(t *testing.T) {
		job := &model.Job{
			ID:        "0b5c1a8e-4a4f-4d7b-9f0e-0c3f9d1f1a01",
			OwnerID:   "guest",
			InputRef:  "0b5c1a8e-4a4f-4d7b-9f0e-0c3f9d1f1a01.mp4",
			Status:    model.JobStatusFailed,
			Error:     &msg,
			CreatedAt: testutil.TestTime(),
			UpdatedAt: testutil.TestTime(),
		}
		stored, err := cache.Put(ctx, job)
		require.NoError(t, err)
		assert.True(t, stored)

		got, err := cache.Get(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, job.Status, got.Status)
		assert.Equal(t, msg, *got.Error)

		ttl := client.TTL(ctx, jobCacheKey(job.ID)).Val()
		assert.True(t, ttl > 0 && ttl <= time.Minute)

		require.NoError(t, cache.Invalidate(ctx, job.ID))
		got, err = cache.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("non-terminal job is not stored", func(t *testing.T) {
		stored, err := cache.Put(ctx, &model.Job{ID: "p1", Status: model.JobStatusProcessing})
		require.NoError(t, err)
		assert.False(t, stored)

		got, err := cache.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, jobCacheKey("bad"), "{not json", time.Minute).Err())
		got, err := cache.Get(ctx, "bad")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Zero(t, client.Exists(ctx, jobCacheKey("bad")).Val())
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := cache.Get(ctx, "")
		require.Error(t, err)
	})

	require.NoError(t, cache.Health(ctx))
}
