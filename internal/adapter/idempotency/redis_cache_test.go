package idempotency

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, time.Hour), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key-1", "job-1"))
	id, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestRedisCache_Get_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisCache_Set_FirstWriterWins(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key-1", "job-1"))
	require.NoError(t, c.Set(ctx, "key-1", "job-2"))

	id, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key-1", "job-1"))
	mr.FastForward(2 * time.Hour)

	_, err := c.Get(ctx, "key-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
