package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newRedisStore(t *testing.T, clk *clock) *RedisStore {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	store.now = clk.Now

	return store
}

func newMemoryStore(clk *clock) *MemoryStore {
	store := NewMemoryStore()
	store.now = clk.Now

	return store
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store, clk *clock)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		clk := &clock{now: time.Unix(1_700_000_000, 0)}
		fn(t, newMemoryStore(clk), clk)
	})

	t.Run("redis", func(t *testing.T) {
		clk := &clock{now: time.Unix(1_700_000_000, 0)}
		fn(t, newRedisStore(t, clk), clk)
	})
}

func TestLimiter_AcquireRespectsTier(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Hour, testLogger())

		for i := range 2 {
			_, err := limiter.Acquire(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: fmt.Sprintf("e%d", i), Tier: models.TierFree})
			require.NoError(t, err)
		}

		ok, err := limiter.CheckUserLimit(ctx, "u1", models.TierFree, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = limiter.Acquire(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "e3", Tier: models.TierFree})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLimitExceeded))

		var limitErr *LimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, "user", limitErr.Scope)

		ok, err = limiter.CheckUserLimit(ctx, "u1", models.TierPro, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestLimiter_WorkspaceLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Hour, testLogger())
		custom := map[string]int64{models.LimitMaxConcurrentJobs: 1}

		_, err := limiter.Acquire(ctx, Slot{UserID: "u1", WorkspaceID: "shared", ExecutionID: "e1", CustomLimits: custom})
		require.NoError(t, err)

		_, err = limiter.Acquire(ctx, Slot{UserID: "u2", WorkspaceID: "shared", ExecutionID: "e2", CustomLimits: custom})

		var limitErr *LimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, "workspace", limitErr.Scope)

		usage, err := limiter.Usage(ctx, "u2", "shared")
		require.NoError(t, err)
		assert.Equal(t, Usage{UserConcurrent: 0, WorkspaceConcurrent: 1}, usage)

		ok, err := limiter.CheckWorkspaceLimit(ctx, "shared", models.TierEnterprise, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestLimiter_ReleaseExactlyOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Hour, testLogger())

		first, err := limiter.Acquire(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "e1"})
		require.NoError(t, err)
		_, err = limiter.Acquire(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "e2"})
		require.NoError(t, err)

		require.NoError(t, first.Release(ctx))
		require.NoError(t, first.Release(ctx))

		usage, err := limiter.Usage(ctx, "u1", "w1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), usage.UserConcurrent)
		assert.Equal(t, int64(1), usage.WorkspaceConcurrent)

		require.NoError(t, limiter.Release(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "e2"}))
		require.NoError(t, limiter.Release(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "e2"}))

		usage, err = limiter.Usage(ctx, "u1", "w1")
		require.NoError(t, err)
		assert.Equal(t, Usage{}, usage)
	})
}

func TestLimiter_LeaseExpires(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clk *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Minute, testLogger())
		custom := map[string]int64{models.LimitMaxConcurrentJobs: 1}

		_, err := limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: "leaked", CustomLimits: custom})
		require.NoError(t, err)

		_, err = limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: "next", CustomLimits: custom})
		require.ErrorIs(t, err, ErrLimitExceeded)

		clk.Advance(2 * time.Minute)

		_, err = limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: "next", CustomLimits: custom})
		require.NoError(t, err)
	})
}

func TestLimiter_ClearExecution(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), time.Hour, testLogger())

	_, err := limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: "e1"})
	require.NoError(t, err)

	found, err := limiter.ClearExecution(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = limiter.ClearExecution(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, found)

	usage, err := limiter.Usage(ctx, "u1", "")
	require.NoError(t, err)
	assert.Zero(t, usage.UserConcurrent)
}

func TestLimiter_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Hour, testLogger())

		var (
			wg       sync.WaitGroup
			acquired atomic.Int64
		)

		for i := range 20 {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				_, err := limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: fmt.Sprintf("e%d", i), Tier: models.TierPro})
				if err == nil {
					acquired.Add(1)
				}
			}(i)
		}

		wg.Wait()

		assert.Equal(t, int64(10), acquired.Load())
	})
}

func TestMemoryStore_Reap(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newMemoryStore(clk)

	_, err := store.TryAcquire(context.Background(), []string{"k"}, []int64{-1}, "a", time.Second)
	require.NoError(t, err)
	_, err = store.TryAcquire(context.Background(), []string{"k"}, []int64{-1}, "b", time.Hour)
	require.NoError(t, err)

	clk.Advance(time.Minute)

	assert.Equal(t, 1, store.Reap())
	count, err := store.Count(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLimiter_DuplicateExecutionKeepsLiveLease(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Hour, testLogger())
		slot := Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "dup-1"}

		lease, err := limiter.Acquire(ctx, slot)
		require.NoError(t, err)

		duplicate, err := limiter.Acquire(ctx, slot)
		require.ErrorIs(t, err, ErrAlreadyAcquired)
		assert.False(t, errors.Is(err, ErrLimitExceeded))
		assert.Nil(t, duplicate)

		usage, err := limiter.Usage(ctx, "u1", "w1")
		require.NoError(t, err)
		assert.Equal(t, Usage{UserConcurrent: 1, WorkspaceConcurrent: 1}, usage)

		require.NoError(t, lease.Release(ctx))

		_, err = limiter.Acquire(ctx, slot)
		require.NoError(t, err)
	})
}

func TestLimiter_DuplicateOnWorkspaceKeyOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, _ *clock) {
		ctx := context.Background()

		_, err := store.TryAcquire(ctx, []string{WorkspaceKey("w1")}, []int64{-1}, "e1", time.Hour)
		require.NoError(t, err)

		rejected, err := store.TryAcquire(ctx, []string{UserKey("u1"), WorkspaceKey("w1")}, []int64{-1, -1}, "e1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, AlreadyHeld, rejected)

		count, err := store.Count(ctx, UserKey("u1"))
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestLease_Renew(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clk *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Minute, testLogger())
		custom := map[string]int64{models.LimitMaxConcurrentJobs: 1}
		slot := Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "long", CustomLimits: custom}

		lease, err := limiter.Acquire(ctx, slot)
		require.NoError(t, err)

		clk.Advance(45 * time.Second)

		held, err := lease.Renew(ctx)
		require.NoError(t, err)
		assert.True(t, held)

		clk.Advance(45 * time.Second)

		_, err = limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: "other", CustomLimits: custom})
		require.ErrorIs(t, err, ErrLimitExceeded)

		// another process frees the slot by execution id
		other := NewLimiter(store, time.Minute, testLogger())
		require.NoError(t, other.Release(ctx, Slot{UserID: "u1", WorkspaceID: "w1", ExecutionID: "long"}))

		held, err = lease.Renew(ctx)
		require.NoError(t, err)
		assert.False(t, held)

		usage, err := limiter.Usage(ctx, "u1", "w1")
		require.NoError(t, err)
		assert.Equal(t, Usage{}, usage)
	})
}

func TestLease_RenewAfterExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clk *clock) {
		ctx := context.Background()
		limiter := NewLimiter(store, time.Minute, testLogger())

		lease, err := limiter.Acquire(ctx, Slot{UserID: "u1", ExecutionID: "stale"})
		require.NoError(t, err)

		clk.Advance(2 * time.Minute)

		held, err := lease.Renew(ctx)
		require.NoError(t, err)
		assert.False(t, held)
	})
}
