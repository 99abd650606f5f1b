package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/infrastructure/lease"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*lease.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lease.NewRedisLocker(client, "backfill:lease:", ttl), mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Minute)

	l, ok, err := locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("backfill:lease:op-1"))
	assert.Equal(t, time.Minute, mr.TTL("backfill:lease:op-1"))

	_, ok, err = locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "op-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx))
	assert.False(t, mr.Exists("backfill:lease:op-1"))
	_, ok, err = locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Second)

	stale, ok, err := locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)

	err = stale.Release(ctx)
	assert.ErrorIs(t, err, lease.ErrNotHeld)
	assert.True(t, mr.Exists("backfill:lease:op-1"), "the new holder keeps its lease")
}

func TestRedisLocker_RenewsHeldLease(t *testing.T) {
	ctx := context.Background()
	ttl := 300 * time.Millisecond
	locker, mr := newRedisLocker(t, ttl)
	key := "backfill:lease:op-1"

	l, ok, err := locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool { return mr.TTL(key) > 100*time.Millisecond },
		2*time.Second, 10*time.Millisecond, "the holder renews the lease")

	// a step running longer than the TTL keeps its lease
	mr.FastForward(250 * time.Millisecond)
	assert.True(t, mr.Exists(key))

	require.NoError(t, l.Release(ctx))
	assert.False(t, mr.Exists(key))
}

func TestRedisLocker_Unavailable(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Minute)
	mr.Close()
	_, ok, err := locker.TryAcquire(context.Background(), "op-1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	locker := lease.NewLocalLocker()

	l, ok, err := locker.TryAcquire(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, _ = locker.TryAcquire(ctx, "op-1")
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx))
	assert.ErrorIs(t, l.Release(ctx), lease.ErrNotHeld)
	_, ok, _ = locker.TryAcquire(ctx, "op-1")
	assert.True(t, ok)
}
