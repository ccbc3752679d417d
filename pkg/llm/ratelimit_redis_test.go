package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/test/util"
)

func redisLimiter(t *testing.T, qpm, concurrent int) *RedisLimiter {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	rdb := util.SetupTestRedis(t)
	return NewRedisLimiter(config.RateLimitConfig{
		Scope:           config.ScopeDashscope,
		QPMLimit:        qpm,
		ConcurrentLimit: concurrent,
		Enabled:         true,
	}, rdb)
}

func TestRedisLimiter_AcquireRelease(t *testing.T) {
	limiter := redisLimiter(t, 100, 10)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	stats := limiter.Stats(ctx)
	assert.Equal(t, 1, stats.Concurrent)
	assert.Equal(t, 1, stats.WindowCount)
	assert.Equal(t, int64(1), stats.TotalAcquired)

	limiter.Release(ctx)
	stats = limiter.Stats(ctx)
	assert.Equal(t, 0, stats.Concurrent)
	// The QPM window entry stays until it ages out.
	assert.Equal(t, 1, stats.WindowCount)
}

func TestRedisLimiter_ConcurrencyBound(t *testing.T) {
	limiter := redisLimiter(t, 1000, 3)
	ctx := context.Background()

	var (
		inFlight atomic.Int64
		maxSeen  atomic.Int64
		wg       sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				seen := maxSeen.Load()
				if n <= seen || maxSeen.CompareAndSwap(seen, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			limiter.Release(ctx)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
	assert.Equal(t, int64(10), limiter.Stats(ctx).TotalAcquired)
}

func TestRedisLimiter_QPMSaturation(t *testing.T) {
	limiter := redisLimiter(t, 3, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(ctx))
		limiter.Release(ctx)
	}
	assert.True(t, limiter.Stats(ctx).Saturated())

	// The window is full; a bounded wait times out instead of acquiring.
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(waitCtx)
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestRedisLimiter_ReleaseClampsAtZero(t *testing.T) {
	limiter := redisLimiter(t, 100, 10)
	ctx := context.Background()

	limiter.Release(ctx)
	assert.Equal(t, 0, limiter.Stats(ctx).Concurrent)
}
