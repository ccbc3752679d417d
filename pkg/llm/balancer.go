package llm

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/config"
)

// LoadBalancer maps a logical model name to a physical model per call.
// Candidates come from the fixed routing table; routes whose circuit is open
// are filtered out before selection. When rate-limit awareness is enabled,
// saturated candidates are deprioritized but never excluded, so traffic
// drains toward healthier routes without stranding capacity.
type LoadBalancer struct {
	cfg     config.BalancerConfig
	models  *config.ModelRegistry
	tracker *PerformanceTracker
	// limiters may be nil: selection then ignores saturation.
	limiters *LimiterSet

	mu         sync.Mutex
	roundRobin map[string]int

	providerMu    sync.Mutex
	providerStats map[config.Provider]*providerMetrics
}

type providerMetrics struct {
	Requests      int64
	Failures      int64
	TotalDuration time.Duration
}

// NewLoadBalancer creates a balancer over the fixed routing table.
func NewLoadBalancer(cfg config.BalancerConfig, models *config.ModelRegistry, tracker *PerformanceTracker, limiters *LimiterSet) *LoadBalancer {
	return &LoadBalancer{
		cfg:           cfg,
		models:        models,
		tracker:       tracker,
		limiters:      limiters,
		roundRobin:    make(map[string]int),
		providerStats: make(map[config.Provider]*providerMetrics),
	}
}

// Map resolves a logical model to a physical model for one call.
//
// With balancing disabled the first (fixed) candidate is used, subject only
// to the breaker filter. If every candidate is unavailable the caller gets a
// fast ErrNoRouteAvailable; neither the limiter nor any provider is touched.
func (b *LoadBalancer) Map(ctx context.Context, logical string) (string, error) {
	candidates, err := b.models.Candidates(logical)
	if err != nil {
		return "", err
	}

	available := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if b.tracker.CanCall(c) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return "", NewError(KindCircuitOpen, logical, "all routes unavailable", ErrNoRouteAvailable)
	}
	if len(available) == 1 {
		return available[0], nil
	}

	// Balancing disabled: the first candidate in registry order is the
	// fixed primary.
	if !b.cfg.Enabled {
		return available[0], nil
	}

	// Ties broken deterministically by name before any strategy runs.
	sort.Strings(available)

	if b.cfg.RateLimitAware && b.limiters != nil {
		available = b.deprioritizeSaturated(ctx, available)
	}

	switch b.cfg.Strategy {
	case config.StrategyRoundRobin:
		return b.pickRoundRobin(logical, available), nil
	case config.StrategyRandom:
		return available[rand.IntN(len(available))], nil
	default:
		return b.pickWeighted(available), nil
	}
}

// deprioritizeSaturated stable-sorts saturated routes to the back.
func (b *LoadBalancer) deprioritizeSaturated(ctx context.Context, candidates []string) []string {
	saturated := func(name string) bool {
		route, err := b.models.Route(name)
		if err != nil {
			return false
		}
		limiter := b.limiters.ForRoute(route)
		return limiter.Stats(ctx).Saturated()
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return !saturated(candidates[i]) && saturated(candidates[j])
	})
	return candidates
}

func (b *LoadBalancer) pickRoundRobin(logical string, candidates []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.roundRobin[logical] % len(candidates)
	b.roundRobin[logical]++
	return candidates[idx]
}

func (b *LoadBalancer) pickWeighted(candidates []string) string {
	total := 0
	weights := make([]int, len(candidates))
	for i, name := range candidates {
		weight := 1
		if route, err := b.models.Route(name); err == nil {
			if w, ok := b.cfg.Weights[route.Provider]; ok && w > 0 {
				weight = w
			}
		}
		weights[i] = weight
		total += weight
	}

	n := rand.IntN(total)
	for i, w := range weights {
		n -= w
		if n < 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// RecordProviderMetrics feeds per-provider analytics after each call.
func (b *LoadBalancer) RecordProviderMetrics(provider config.Provider, success bool, duration time.Duration) {
	b.providerMu.Lock()
	defer b.providerMu.Unlock()

	m, ok := b.providerStats[provider]
	if !ok {
		m = &providerMetrics{}
		b.providerStats[provider] = m
	}
	m.Requests++
	m.TotalDuration += duration
	if !success {
		m.Failures++
	}
}

// ProviderStats is the per-provider analytics snapshot.
type ProviderStats struct {
	Provider    config.Provider `json:"provider"`
	Requests    int64           `json:"requests"`
	Failures    int64           `json:"failures"`
	AvgDuration time.Duration   `json:"avg_duration"`
}

// Snapshot returns provider-level analytics, sorted by provider name.
func (b *LoadBalancer) Snapshot() []ProviderStats {
	b.providerMu.Lock()
	defer b.providerMu.Unlock()

	out := make([]ProviderStats, 0, len(b.providerStats))
	for provider, m := range b.providerStats {
		stats := ProviderStats{
			Provider: provider,
			Requests: m.Requests,
			Failures: m.Failures,
		}
		if m.Requests > 0 {
			stats.AvgDuration = m.TotalDuration / time.Duration(m.Requests)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
