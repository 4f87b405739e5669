// Package barrier synthesizes the fan-in join for a job's operation group on
// Redis. Every operation task reports its output under its index; any arrival
// that observes the completed group gets fire=true with the outputs ordered
// by index. Redelivered arrivals after completion fire again, so the dispatch
// behind fire must be idempotent. Here that is the finalizer, collapsed by
// the job completion compare-and-set.
package barrier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

// Keys expire with the idempotency horizon so abandoned groups cannot leak.
const keyTTL = 24 * time.Hour

// arriveScript records one arrival atomically and returns 1 whenever the
// group is complete and not failed. HSETNX keeps the first output per index,
// so a redelivered member neither bumps the counter nor overwrites its
// sibling's result. The fire signal is not consumed: the caller may crash
// between this call and the dispatch it triggers, and only the redelivered
// message firing again can recover that dispatch.
const arriveScript = `
local outputs = KEYS[1]
local meta = KEYS[2]
local index = ARGV[1]
local output = ARGV[2]
local ttl = tonumber(ARGV[3])

if redis.call("HSETNX", outputs, index, output) == 1 then
  redis.call("HINCRBY", meta, "arrived", 1)
end
redis.call("EXPIRE", outputs, ttl)
redis.call("EXPIRE", meta, ttl)

if redis.call("HGET", meta, "failed") == "1" then
  return 0
end

local total = tonumber(redis.call("HGET", meta, "total"))
local arrived = tonumber(redis.call("HGET", meta, "arrived"))
if total ~= nil and arrived ~= nil and arrived >= total then
  return 1
end
return 0
`

// RedisBarrier implements domain.Barrier on a Redis hash pair per job.
type RedisBarrier struct {
	rdb    *redis.Client
	arrive *redis.Script
}

// NewRedisBarrier constructs the barrier around an existing client.
func NewRedisBarrier(rdb *redis.Client) *RedisBarrier {
	return &RedisBarrier{rdb: rdb, arrive: redis.NewScript(arriveScript)}
}

func outputsKey(jobID string) string { return "barrier:" + jobID + ":outputs" }
func metaKey(jobID string) string    { return "barrier:" + jobID + ":meta" }

// Init records the group size before any member is published.
func (b *RedisBarrier) Init(ctx domain.Context, jobID string, total int) error {
	key := metaKey(jobID)
	if err := b.rdb.HSet(ctx, key, "total", total, "arrived", 0).Err(); err != nil {
		return fmt.Errorf("op=barrier.init: %w", err)
	}
	if err := b.rdb.Expire(ctx, key, keyTTL).Err(); err != nil {
		return fmt.Errorf("op=barrier.init_expire: %w", err)
	}
	return nil
}

// Arrive records output for index and reports whether the group is complete.
// On fire the full output list is returned ordered by index. Arrivals after
// completion keep reporting fire=true; duplicate dispatches collapse at the
// job completion write.
func (b *RedisBarrier) Arrive(ctx domain.Context, jobID string, index int, output string) (bool, []string, error) {
	keys := []string{outputsKey(jobID), metaKey(jobID)}
	res, err := b.arrive.Run(ctx, b.rdb, keys, index, output, int(keyTTL.Seconds())).Int()
	if err != nil {
		return false, nil, fmt.Errorf("op=barrier.arrive: %w", err)
	}
	if res != 1 {
		return false, nil, nil
	}
	results, err := b.collect(ctx, jobID)
	if err != nil {
		return false, nil, err
	}
	return true, results, nil
}

// Fail marks the group so no later arrival can fire the callback.
func (b *RedisBarrier) Fail(ctx domain.Context, jobID string) error {
	if err := b.rdb.HSet(ctx, metaKey(jobID), "failed", "1").Err(); err != nil {
		return fmt.Errorf("op=barrier.fail: %w", err)
	}
	if err := b.rdb.Expire(ctx, metaKey(jobID), keyTTL).Err(); err != nil {
		return fmt.Errorf("op=barrier.fail_expire: %w", err)
	}
	return nil
}

func (b *RedisBarrier) collect(ctx domain.Context, jobID string) ([]string, error) {
	m, err := b.rdb.HGetAll(ctx, outputsKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=barrier.collect: %w", err)
	}
	results := make([]string, len(m))
	for idx, out := range m {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(results) {
			return nil, fmt.Errorf("op=barrier.collect: unexpected index %q", idx)
		}
		results[i] = out
	}
	return results, nil
}
