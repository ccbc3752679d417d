package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thinkmaps/thinkmaps/pkg/config"
)

// Limiter enforces a per-scope QPM sliding window and concurrency ceiling.
//
// Acquire blocks until both limits have room, then atomically records the
// request timestamp and increments the in-flight counter. Waits are
// cooperative: a cancelled context aborts the wait. Release must be called
// exactly once per successful Acquire; the counter never goes below zero.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
	Scope() config.Scope
	Stats(ctx context.Context) LimiterStats
}

// LimiterStats is a point-in-time snapshot of one limiter.
type LimiterStats struct {
	Scope           config.Scope `json:"scope"`
	QPMLimit        int          `json:"qpm_limit"`
	ConcurrentLimit int          `json:"concurrent_limit"`
	WindowCount     int          `json:"window_count"`
	Concurrent      int          `json:"concurrent"`
	TotalAcquired   int64        `json:"total_acquired"`
}

// Saturated reports whether the scope is at or near either ceiling. The
// balancer uses this to deprioritize (not exclude) busy routes.
func (s LimiterStats) Saturated() bool {
	return s.Concurrent >= s.ConcurrentLimit || s.WindowCount >= s.QPMLimit
}

const (
	qpmWindow           = time.Minute
	concurrentPollEvery = 100 * time.Millisecond
	qpmPollEvery        = time.Second
)

// noopLimiter is used for scopes with rate limiting disabled.
type noopLimiter struct{ scope config.Scope }

func (n *noopLimiter) Acquire(context.Context) error { return nil }
func (n *noopLimiter) Release(context.Context)       {}
func (n *noopLimiter) Scope() config.Scope           { return n.scope }
func (n *noopLimiter) Stats(context.Context) LimiterStats {
	return LimiterStats{Scope: n.scope}
}

// MemoryLimiter is the in-process fallback used when Redis is unavailable.
// It enforces the same invariants per worker instead of globally.
type MemoryLimiter struct {
	cfg config.RateLimitConfig

	mu         sync.Mutex
	timestamps []time.Time
	concurrent int
	acquired   int64
}

// NewMemoryLimiter creates an in-process limiter for one scope.
func NewMemoryLimiter(cfg config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg}
}

// Scope returns the limiter's scope.
func (m *MemoryLimiter) Scope() config.Scope { return m.cfg.Scope }

// Acquire blocks until both the QPM window and the concurrency counter have
// room, then commits the grant.
func (m *MemoryLimiter) Acquire(ctx context.Context) error {
	// Concurrency gate first: cheap check, short poll.
	for {
		m.mu.Lock()
		if m.concurrent < m.cfg.ConcurrentLimit {
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()
		if err := sleepCtx(ctx, concurrentPollEvery); err != nil {
			return err
		}
	}

	// QPM gate: prune the window, count, wait if full.
	for {
		m.mu.Lock()
		m.prune(time.Now())
		if len(m.timestamps) < m.cfg.QPMLimit {
			// Commit inside the same critical section so two waiters
			// cannot both take the last slot.
			if m.concurrent < m.cfg.ConcurrentLimit {
				m.timestamps = append(m.timestamps, time.Now())
				m.concurrent++
				m.acquired++
				m.mu.Unlock()
				return nil
			}
		}
		m.mu.Unlock()
		if err := sleepCtx(ctx, qpmPollEvery); err != nil {
			return err
		}
	}
}

// Release decrements the in-flight counter, clamping at zero.
func (m *MemoryLimiter) Release(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concurrent--
	if m.concurrent < 0 {
		m.concurrent = 0
	}
}

// Stats returns a snapshot of the limiter state.
func (m *MemoryLimiter) Stats(context.Context) LimiterStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	return LimiterStats{
		Scope:           m.cfg.Scope,
		QPMLimit:        m.cfg.QPMLimit,
		ConcurrentLimit: m.cfg.ConcurrentLimit,
		WindowCount:     len(m.timestamps),
		Concurrent:      m.concurrent,
		TotalAcquired:   m.acquired,
	}
}

// prune drops window entries older than one minute. Callers hold m.mu.
func (m *MemoryLimiter) prune(now time.Time) {
	cutoff := now.Add(-qpmWindow)
	i := 0
	for i < len(m.timestamps) && m.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.timestamps = m.timestamps[i:]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return NewError(KindCancelled, "", "cancelled while waiting for rate limiter", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// LimiterSet holds one limiter per scope and resolves the limiter for a
// physical route.
type LimiterSet struct {
	limiters map[config.Scope]Limiter
}

// NewLimiterSet builds one limiter per configured scope. With a nil Redis
// client every scope falls back to an in-process limiter; correctness
// degrades from deployment-global to per-worker, nothing else changes.
func NewLimiterSet(limits config.RateLimits, rdb *redis.Client) *LimiterSet {
	limiters := make(map[config.Scope]Limiter, len(limits))
	for scope, cfg := range limits {
		switch {
		case !cfg.Enabled:
			limiters[scope] = &noopLimiter{scope: scope}
		case rdb != nil:
			limiters[scope] = NewRedisLimiter(cfg, rdb)
		default:
			slog.Warn("Redis unavailable, using in-process rate limiter", "scope", scope)
			limiters[scope] = NewMemoryLimiter(cfg)
		}
	}
	return &LimiterSet{limiters: limiters}
}

// ForRoute returns the limiter guarding the given route's scope.
func (s *LimiterSet) ForRoute(route *config.ModelRoute) Limiter {
	if l, ok := s.limiters[route.Scope]; ok {
		return l
	}
	// Unknown scope means a config bug; fail open rather than deadlock.
	return &noopLimiter{scope: route.Scope}
}

// ForScope returns the limiter for a scope, or nil if none is configured.
func (s *LimiterSet) ForScope(scope config.Scope) Limiter {
	return s.limiters[scope]
}

// Stats returns snapshots for every scope.
func (s *LimiterSet) Stats(ctx context.Context) []LimiterStats {
	out := make([]LimiterStats, 0, len(s.limiters))
	for _, l := range s.limiters {
		out = append(out, l.Stats(ctx))
	}
	return out
}
