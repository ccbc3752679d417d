package llm

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one physical model.
type BreakerState string

// Circuit breaker states.
const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

const (
	// defaultFailureThreshold opens the circuit after this many consecutive
	// failures.
	defaultFailureThreshold = 5

	// defaultCooldown is how long an open circuit rejects calls before
	// allowing a half-open probe.
	defaultCooldown = 60 * time.Second

	// latencyRingSize bounds the per-model latency sample ring.
	latencyRingSize = 256
)

// modelWindow is the per-physical-model breaker and performance state.
type modelWindow struct {
	state               BreakerState
	consecutiveFailures int
	successCount        int64
	failureCount        int64
	openedAt            time.Time

	latencies []time.Duration
	latencyAt int
	latencyN  int
}

// PerformanceTracker combines the per-physical-model circuit breaker with
// latency percentile tracking. Keying by physical model is deliberate: a
// failing route must not take its healthy sibling out of rotation.
type PerformanceTracker struct {
	failureThreshold int
	cooldown         time.Duration

	mu      sync.Mutex
	windows map[string]*modelWindow
}

// NewPerformanceTracker creates a tracker with default thresholds.
func NewPerformanceTracker() *PerformanceTracker {
	return NewPerformanceTrackerWithThresholds(defaultFailureThreshold, defaultCooldown)
}

// NewPerformanceTrackerWithThresholds creates a tracker with explicit
// breaker thresholds.
func NewPerformanceTrackerWithThresholds(failureThreshold int, cooldown time.Duration) *PerformanceTracker {
	return &PerformanceTracker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		windows:          make(map[string]*modelWindow),
	}
}

func (t *PerformanceTracker) window(model string) *modelWindow {
	w, ok := t.windows[model]
	if !ok {
		w = &modelWindow{
			state:     StateClosed,
			latencies: make([]time.Duration, latencyRingSize),
		}
		t.windows[model] = w
	}
	return w
}

// CanCall reports whether the route may be called right now. An open circuit
// transitions to half-open on the first call after the cooldown; half-open
// admits exactly that one probe call.
func (t *PerformanceTracker) CanCall(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(model)
	switch w.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(w.openedAt) >= t.cooldown {
			w.state = StateHalfOpen
			slog.Info("Circuit half-open, allowing probe call", "model", model)
			return true
		}
		return false
	case StateHalfOpen:
		// The probe is in flight; hold further calls until it reports.
		return false
	}
	return true
}

// Record registers the outcome of one call. Quota exhaustion counts double
// so a hard-stopped route opens faster than one with sporadic errors.
// Cancellations count as failures for the metrics but never trip the
// breaker: the caller walked away, the route may be fine.
func (t *PerformanceTracker) Record(model string, success bool, duration time.Duration, kind ErrorKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(model)
	w.latencies[w.latencyAt] = duration
	w.latencyAt = (w.latencyAt + 1) % latencyRingSize
	if w.latencyN < latencyRingSize {
		w.latencyN++
	}

	if success {
		w.successCount++
		w.consecutiveFailures = 0
		if w.state != StateClosed {
			slog.Info("Circuit closed after successful probe", "model", model)
		}
		w.state = StateClosed
		return
	}

	w.failureCount++
	if kind == KindCancelled {
		// A cancelled call proves nothing about the route. A cancelled
		// half-open probe must still restart the cooldown: leaving the
		// window half-open would hold off every future call and no later
		// Record could ever unwedge it.
		if w.state == StateHalfOpen {
			w.state = StateOpen
			w.openedAt = time.Now()
			slog.Info("Circuit probe cancelled, resuming cooldown", "model", model)
		}
		return
	}

	increment := 1
	if kind == KindQuotaExhausted {
		increment = 2
	}
	w.consecutiveFailures += increment

	if w.state == StateHalfOpen || w.consecutiveFailures >= t.failureThreshold {
		if w.state != StateOpen {
			slog.Warn("Circuit opened",
				"model", model,
				"consecutive_failures", w.consecutiveFailures,
				"error_kind", kind)
		}
		w.state = StateOpen
		w.openedAt = time.Now()
	}
}

// ModelStats is a reporting snapshot for one physical model.
type ModelStats struct {
	Model               string        `json:"model"`
	State               BreakerState  `json:"state"`
	SuccessCount        int64         `json:"success_count"`
	FailureCount        int64         `json:"failure_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	P50                 time.Duration `json:"p50"`
	P95                 time.Duration `json:"p95"`
	P99                 time.Duration `json:"p99"`
}

// Snapshot returns per-model stats for every tracked model.
func (t *PerformanceTracker) Snapshot() []ModelStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ModelStats, 0, len(t.windows))
	for model, w := range t.windows {
		stats := ModelStats{
			Model:               model,
			State:               w.state,
			SuccessCount:        w.successCount,
			FailureCount:        w.failureCount,
			ConsecutiveFailures: w.consecutiveFailures,
		}
		if w.latencyN > 0 {
			samples := make([]time.Duration, w.latencyN)
			copy(samples, w.latencies[:w.latencyN])
			sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
			stats.P50 = percentile(samples, 50)
			stats.P95 = percentile(samples, 95)
			stats.P99 = percentile(samples, 99)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// percentile returns the p-th percentile of sorted samples.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
