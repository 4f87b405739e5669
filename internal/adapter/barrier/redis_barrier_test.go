package barrier

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBarrier(t *testing.T) *RedisBarrier {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBarrier(rdb)
}

func TestBarrier_FiresOnceWithOrderedResults(t *testing.T) {
	b := newTestBarrier(t)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx, "job-1", 3))

	fire, _, err := b.Arrive(ctx, "job-1", 1, "out-b")
	require.NoError(t, err)
	assert.False(t, fire)

	fire, _, err = b.Arrive(ctx, "job-1", 0, "out-a")
	require.NoError(t, err)
	assert.False(t, fire)

	fire, results, err := b.Arrive(ctx, "job-1", 2, "out-c")
	require.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []string{"out-a", "out-b", "out-c"}, results)
}

func TestBarrier_DuplicateArrivalBeforeCompletionDoesNotFire(t *testing.T) {
	b := newTestBarrier(t)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx, "job-1", 2))

	fire, _, err := b.Arrive(ctx, "job-1", 0, "out-a")
	require.NoError(t, err)
	assert.False(t, fire)

	// The redelivered member is not double counted against total.
	fire, _, err = b.Arrive(ctx, "job-1", 0, "out-a")
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestBarrier_RedeliveryAfterCompletionFiresAgain(t *testing.T) {
	b := newTestBarrier(t)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx, "job-1", 2))

	fire, _, err := b.Arrive(ctx, "job-1", 0, "out-a")
	require.NoError(t, err)
	assert.False(t, fire)

	fire, _, err = b.Arrive(ctx, "job-1", 1, "out-b")
	require.NoError(t, err)
	assert.True(t, fire)

	// A member redelivered after the group completed must fire again with
	// the first recorded outputs. A worker can die between observing the
	// completion and dispatching on it; only the redelivery can recover that.
	fire, results, err := b.Arrive(ctx, "job-1", 1, "out-b-redelivered")
	require.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []string{"out-a", "out-b"}, results)
}

func TestBarrier_SingleMemberGroup(t *testing.T) {
	b := newTestBarrier(t)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx, "job-1", 1))
	fire, results, err := b.Arrive(ctx, "job-1", 0, "only")
	require.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []string{"only"}, results)
}

func TestBarrier_FailedGroupNeverFires(t *testing.T) {
	b := newTestBarrier(t)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx, "job-1", 2))

	fire, _, err := b.Arrive(ctx, "job-1", 0, "out-a")
	require.NoError(t, err)
	assert.False(t, fire)

	require.NoError(t, b.Fail(ctx, "job-1"))

	fire, _, err = b.Arrive(ctx, "job-1", 1, "out-b")
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestBarrier_IndependentJobs(t *testing.T) {
	b := newTestBarrier(t)
	ctx := context.Background()

	require.NoError(t, b.Init(ctx, "job-1", 1))
	require.NoError(t, b.Init(ctx, "job-2", 1))

	fire, results, err := b.Arrive(ctx, "job-2", 0, "two")
	require.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []string{"two"}, results)

	fire, results, err = b.Arrive(ctx, "job-1", 0, "one")
	require.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []string{"one"}, results)
}
