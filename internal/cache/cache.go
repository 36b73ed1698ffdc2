// Package cache is the Redis-backed job status mirror, results page cache and
// rate limit counter store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint used when collecting a job's cached pages.
const scanBatch = 100

// RedisCache stores short-lived job data in Redis. It is safe for concurrent
// use. The zero value is not usable; build one with NewRedisCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetJobStatus mirrors a job's current state so other processes can watch it
// without calling the API.
func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, ttl).Err()
}

// GetResultsPage returns a cached results page. A miss is not an error.
func (c *RedisCache) GetResultsPage(ctx context.Context, jobID uuid.UUID, pageHash string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, ResultsPageKey(jobID, pageHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetResultsPage caches one encoded results page of a finished job.
func (c *RedisCache) SetResultsPage(ctx context.Context, jobID uuid.UUID, pageHash string, page []byte, ttl time.Duration) error {
	return c.client.Set(ctx, ResultsPageKey(jobID, pageHash), page, ttl).Err()
}

// ForgetJob removes the status mirror and every cached results page of a job.
func (c *RedisCache) ForgetJob(ctx context.Context, jobID uuid.UUID) error {
	keys := []string{JobStatusKey(jobID)}

	iter := c.client.Scan(ctx, 0, resultsPagePattern(jobID), scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached pages: %w", err)
	}

	return c.client.Del(ctx, keys...).Err()
}

// IncrWithExpiry bumps a fixed-window counter. The expiry is refreshed on
// every call, so a window ends once the client pauses for expiry.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
