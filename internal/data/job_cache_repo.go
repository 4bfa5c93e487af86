package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/clipscore/internal/core"
	"github.com/target/clipscore/internal/domain/model"
)

const (
	jobCacheKeyPrefix  = "clipscore:job:"
	defaultJobCacheTTL = 10 * time.Minute
)

// RedisJobCache caches terminal jobs in Redis. Non-terminal jobs are never cached
// because their status is still changing.
type RedisJobCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisJobCache creates a cache storing entries for ttl (10m when ttl <= 0).
func NewRedisJobCache(client redis.UniversalClient, ttl time.Duration) *RedisJobCache {
	if ttl <= 0 {
		ttl = defaultJobCacheTTL
	}
	return &RedisJobCache{client: client, ttl: ttl}
}

func jobCacheKey(id string) string { return jobCacheKeyPrefix + id }

// Get returns the cached job, or nil when it is not cached.
func (c *RedisJobCache) Get(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, errors.New("job id cannot be empty")
	}
	raw, err := c.client.Get(ctx, jobCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = c.client.Del(ctx, jobCacheKey(id)).Err()
		return nil, nil
	}
	return &job, nil
}

// Put stores job when it is terminal and reports whether it was stored.
func (c *RedisJobCache) Put(ctx context.Context, job *model.Job) (bool, error) {
	if job == nil || !job.Status.Terminal() {
		return false, nil
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}
	if err := c.client.Set(ctx, jobCacheKey(job.ID), raw, c.ttl).Err(); err != nil {
		return false, fmt.Errorf("redis set: %w", err)
	}
	return true, nil
}

// Invalidate removes id from the cache.
func (c *RedisJobCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, jobCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the Redis connection.
func (c *RedisJobCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ core.JobCache = (*RedisJobCache)(nil)
