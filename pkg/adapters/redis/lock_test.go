package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pvm/pkg/adapters/redis"
)

func TestLocker_ExclusiveUntilUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "pvm:", redis.WithRetryInterval(5*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("pvm:lock:p1"))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "p1", time.Minute)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("pvm:lock:p1"))

	unlock, err = locker.Lock(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocker_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "pvm:", redis.WithRetryInterval(5*time.Millisecond))
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "p1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Lock(ctx, "p1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("pvm:lock:p1"), "the new owner keeps the lock")
	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists("pvm:lock:p1"))
}
