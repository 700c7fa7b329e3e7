package redisclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client, err := NewRedisClient(context.Background(), Options{Addr: "localhost:6379", DB: 15})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	ctx := context.Background()
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	return client
}

func TestRedisLocker_SecondHolderRejected(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)
	ctx := context.Background()

	var inner error
	err := locker.WithLock(ctx, "sweep", func(ctx context.Context) error {
		inner = locker.WithLock(ctx, "sweep", func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrLockNotAcquired)

	var ran atomic.Bool
	require.NoError(t, locker.WithLock(ctx, "sweep", func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load(), "lock is released after the first holder returns")
}

func TestRedisLocker_RenewsLeaseBeyondTTL(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisLocker(client, 300*time.Millisecond)
	ctx := context.Background()

	var contender error
	err := locker.WithLock(ctx, "sweep", func(ctx context.Context) error {
		time.Sleep(900 * time.Millisecond)
		contender = locker.WithLock(context.Background(), "sweep", func(context.Context) error { return nil })
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.ErrorIs(t, contender, ErrLockNotAcquired, "lease must outlive its ttl while the holder runs")

	exists, err := client.Exists(ctx, leaseKey("sweep")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisLocker_CancelsWorkWhenLeaseLost(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisLocker(client, 300*time.Millisecond)
	ctx := context.Background()

	err := locker.WithLock(ctx, "sweep", func(ctx context.Context) error {
		require.NoError(t, client.Set(context.Background(), leaseKey("sweep"), "other-owner", time.Minute).Err())
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	assert.ErrorIs(t, err, ErrLeaseLost)

	owner, err := client.Get(ctx, leaseKey("sweep")).Result()
	require.NoError(t, err)
	assert.Equal(t, "other-owner", owner, "release must not delete another owner's lease")
}

func TestQueue_FIFOAndTimeout(t *testing.T) {
	client := setupTestRedis(t)
	q := NewQueue(client, "test:queue")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("first")))
	require.NoError(t, q.Push(ctx, []byte("second")))

	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	got, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	got, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, q.DeadLetter(ctx, []byte("poison")))
	n, err := client.LLen(ctx, "test:queue:dead").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestQuotaCache_SetGetInvalidate(t *testing.T) {
	client := setupTestRedis(t)
	cache := NewQuotaCache(client, time.Minute)
	ctx := context.Background()
	parent := uuid.New()

	miss, err := cache.Get(ctx, parent, 2025)
	require.NoError(t, err)
	assert.Nil(t, miss)

	want := CachedQuota{SubscriptionID: uuid.New(), Remaining: 3, Max: 4, EndDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	gen, err := cache.Generation(ctx, parent, 2025)
	require.NoError(t, err)
	stored, err := cache.Set(ctx, parent, 2025, gen, want)
	require.NoError(t, err)
	assert.True(t, stored)
	got, err := cache.Get(ctx, parent, 2025)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	stored, err = cache.Set(ctx, parent, 2026, 0, CachedQuota{NotFound: true})
	require.NoError(t, err)
	assert.True(t, stored)
	got, err = cache.Get(ctx, parent, 2026)
	require.NoError(t, err)
	assert.True(t, got.NotFound)

	require.NoError(t, cache.Invalidate(ctx, parent, 2025))
	got, err = cache.Get(ctx, parent, 2025)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQuotaCache_StaleGenerationNotStored(t *testing.T) {
	client := setupTestRedis(t)
	cache := NewQuotaCache(client, time.Minute)
	ctx := context.Background()
	parent := uuid.New()

	gen, err := cache.Generation(ctx, parent, 2025)
	require.NoError(t, err)

	// a commit invalidates between the reader's load and its write
	require.NoError(t, cache.Invalidate(ctx, parent, 2025))

	stale := CachedQuota{SubscriptionID: uuid.New(), Remaining: 4, Max: 4, EndDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	stored, err := cache.Set(ctx, parent, 2025, gen, stale)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := cache.Get(ctx, parent, 2025)
	require.NoError(t, err)
	assert.Nil(t, got)

	gen, err = cache.Generation(ctx, parent, 2025)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
	stored, err = cache.Set(ctx, parent, 2025, gen, stale)
	require.NoError(t, err)
	assert.True(t, stored)
}
