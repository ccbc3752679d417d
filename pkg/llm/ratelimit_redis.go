package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/thinkmaps/thinkmaps/pkg/config"
)

// Redis key layout per scope:
//
//	llm:rate:{scope}:qpm        sorted set, member=requestID, score=unix-millis
//	llm:rate:{scope}:concurrent integer
//	llm:rate:{scope}:stats      hash
const (
	qpmKeyTTL        = 120 * time.Second
	concurrentKeyTTL = 300 * time.Second // safety TTL against leaked slots
)

// RedisLimiter is the authoritative, deployment-global limiter. All workers
// share the same counters through pipelined Redis operations.
type RedisLimiter struct {
	cfg config.RateLimitConfig
	rdb *redis.Client

	qpmKey        string
	concurrentKey string
	statsKey      string
}

// NewRedisLimiter creates a Redis-backed limiter for one scope.
func NewRedisLimiter(cfg config.RateLimitConfig, rdb *redis.Client) *RedisLimiter {
	prefix := fmt.Sprintf("llm:rate:%s", cfg.Scope)
	return &RedisLimiter{
		cfg:           cfg,
		rdb:           rdb,
		qpmKey:        prefix + ":qpm",
		concurrentKey: prefix + ":concurrent",
		statsKey:      prefix + ":stats",
	}
}

// Scope returns the limiter's scope.
func (r *RedisLimiter) Scope() config.Scope { return r.cfg.Scope }

// Acquire blocks until both the QPM window and the concurrency counter have
// room. The concurrency slot is taken with an optimistic INCR so the bound
// holds exactly across workers; the QPM window is prune-and-count over a
// sorted set and stays within one entry of the limit under contention.
func (r *RedisLimiter) Acquire(ctx context.Context) error {
	// 1. Concurrency gate: increment first, give the slot back if over.
	for {
		pipe := r.rdb.TxPipeline()
		incrCmd := pipe.Incr(ctx, r.concurrentKey)
		pipe.Expire(ctx, r.concurrentKey, concurrentKeyTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return r.redisErr("take concurrent slot", err)
		}
		if int(incrCmd.Val()) <= r.cfg.ConcurrentLimit {
			break
		}
		r.rdb.Decr(ctx, r.concurrentKey)
		if err := sleepCtx(ctx, concurrentPollEvery); err != nil {
			return err
		}
	}

	// 2. QPM gate: prune entries older than the window, count the rest.
	for {
		now := time.Now()
		cutoff := strconv.FormatInt(now.Add(-qpmWindow).UnixMilli(), 10)

		pipe := r.rdb.TxPipeline()
		pipe.ZRemRangeByScore(ctx, r.qpmKey, "0", cutoff)
		countCmd := pipe.ZCard(ctx, r.qpmKey)
		if _, err := pipe.Exec(ctx); err != nil {
			r.rdb.Decr(ctx, r.concurrentKey)
			return r.redisErr("count qpm window", err)
		}
		if int(countCmd.Val()) < r.cfg.QPMLimit {
			break
		}
		if err := sleepCtx(ctx, qpmPollEvery); err != nil {
			r.rdb.Decr(ctx, r.concurrentKey)
			return err
		}
	}

	// 3. Commit: record the window entry and update stats.
	now := time.Now()
	requestID := uuid.New().String()

	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, r.qpmKey, redis.Z{Score: float64(now.UnixMilli()), Member: requestID})
	pipe.Expire(ctx, r.qpmKey, qpmKeyTTL)
	pipe.HIncrBy(ctx, r.statsKey, "total_acquired", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		r.rdb.Decr(ctx, r.concurrentKey)
		return r.redisErr("commit acquire", err)
	}

	return nil
}

// Release decrements the in-flight counter. A negative result is clamped
// back to zero; that only happens after a counter expiry raced a release.
func (r *RedisLimiter) Release(ctx context.Context) {
	n, err := r.rdb.Decr(ctx, r.concurrentKey).Result()
	if err != nil {
		slog.Warn("Failed to release rate limiter slot", "scope", r.cfg.Scope, "error", err)
		return
	}
	if n < 0 {
		if err := r.rdb.Set(ctx, r.concurrentKey, 0, concurrentKeyTTL).Err(); err != nil {
			slog.Warn("Failed to clamp concurrent counter", "scope", r.cfg.Scope, "error", err)
		}
	}
}

// Stats returns a snapshot of the limiter state.
func (r *RedisLimiter) Stats(ctx context.Context) LimiterStats {
	stats := LimiterStats{
		Scope:           r.cfg.Scope,
		QPMLimit:        r.cfg.QPMLimit,
		ConcurrentLimit: r.cfg.ConcurrentLimit,
	}

	cutoff := strconv.FormatInt(time.Now().Add(-qpmWindow).UnixMilli(), 10)
	pipe := r.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, r.qpmKey, "0", cutoff)
	windowCmd := pipe.ZCard(ctx, r.qpmKey)
	concurrentCmd := pipe.Get(ctx, r.concurrentKey)
	acquiredCmd := pipe.HGet(ctx, r.statsKey, "total_acquired")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return stats
	}

	stats.WindowCount = int(windowCmd.Val())
	if n, err := concurrentCmd.Int(); err == nil {
		stats.Concurrent = n
	}
	if n, err := strconv.ParseInt(acquiredCmd.Val(), 10, 64); err == nil {
		stats.TotalAcquired = n
	}
	return stats
}

func (r *RedisLimiter) redisErr(op string, err error) error {
	return NewError(KindServiceError, "",
		fmt.Sprintf("rate limiter %s failed for scope %s", op, r.cfg.Scope), err)
}
