// Package idempotency provides a Redis-backed idempotency key cache.
//
// A client retrying a submission with the same Idempotency-Key header gets
// the canonical job id minted by the first attempt, for the lifetime of the
// configured TTL.
package idempotency

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

const keyPrefix = "idempotency:"

// RedisCache maps idempotency keys to job ids with a bounded TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache constructs the cache around an existing client.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Get returns the job id recorded for key, or ErrNotFound.
func (c *RedisCache) Get(ctx domain.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("op=idempotency.get: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=idempotency.get: %w", err)
	}
	return v, nil
}

// Set records the job id for key. SET NX keeps the first writer canonical
// when two identical submissions race past the Get check.
func (c *RedisCache) Set(ctx domain.Context, key, jobID string) error {
	if err := c.rdb.SetNX(ctx, keyPrefix+key, jobID, c.ttl).Err(); err != nil {
		return fmt.Errorf("op=idempotency.set: %w", err)
	}
	return nil
}
