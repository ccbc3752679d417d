package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// fakeClient is a scriptable ProviderClient. chatFn receives the 1-based
// call number so tests can fail the first N attempts.
type fakeClient struct {
	name  string
	delay time.Duration

	chatFn   func(call int) (*models.ChatResult, error)
	streamFn func(ctx context.Context) []models.StreamChunk
	streamErr error

	mu    sync.Mutex
	calls int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) nextCall() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) Chat(ctx context.Context, _ []models.Message, _ ChatOptions) (*models.ChatResult, error) {
	call := f.nextCall()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.chatFn != nil {
		return f.chatFn(call)
	}
	return &models.ChatResult{
		Content: f.name + " response",
		Usage:   &models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeClient) ChatStream(ctx context.Context, _ []models.Message, _ ChatOptions) (<-chan models.StreamChunk, error) {
	f.nextCall()
	if f.streamErr != nil {
		return nil, f.streamErr
	}

	var chunks []models.StreamChunk
	if f.streamFn != nil {
		chunks = f.streamFn(ctx)
	} else {
		chunks = []models.StreamChunk{
			{Type: models.ChunkToken, Content: f.name + "-t1"},
			{Type: models.ChunkToken, Content: f.name + "-t2"},
			{Type: models.ChunkUsage, Usage: &models.Usage{TotalTokens: 2}},
		}
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// countingLimiter wraps a no-op limiter with acquire/release accounting so
// tests can assert exact pairing.
type countingLimiter struct {
	scope config.Scope

	mu       sync.Mutex
	acquired int
	released int
	inFlight int
	maxSeen  int
	failWith error
}

func (c *countingLimiter) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.acquired++
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	return nil
}

func (c *countingLimiter) Release(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	c.inFlight--
}

func (c *countingLimiter) Scope() config.Scope { return c.scope }

func (c *countingLimiter) Stats(context.Context) LimiterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LimiterStats{Scope: c.scope, TotalAcquired: int64(c.acquired)}
}

func (c *countingLimiter) balance() (acquired, released int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired, c.released
}

// captureSink records tracked usage for assertions.
type captureSink struct {
	mu      sync.Mutex
	records []models.UsageRecord
}

func (s *captureSink) Track(rec models.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *captureSink) all() []models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// fixture wires a Service over fake clients and counting limiters, one per
// scope, with the real registry and balancer.
type fixture struct {
	service  *Service
	registry *config.ModelRegistry
	tracker  *PerformanceTracker
	balancer *LoadBalancer
	clients  map[string]*fakeClient
	limiters map[config.Scope]*countingLimiter
	sink     *captureSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := config.NewModelRegistry()

	clients := make(map[string]*fakeClient)
	var pooled []ProviderClient
	for _, name := range registry.PhysicalModels() {
		c := &fakeClient{name: name}
		clients[name] = c
		pooled = append(pooled, c)
	}

	limiters := map[config.Scope]*countingLimiter{}
	limiterMap := map[config.Scope]Limiter{}
	for _, scope := range []config.Scope{
		config.ScopeDashscope, config.ScopeArkDeepseek,
		config.ScopeArkKimi, config.ScopeArkDoubao,
	} {
		cl := &countingLimiter{scope: scope}
		limiters[scope] = cl
		limiterMap[scope] = cl
	}
	limiterSet := &LimiterSet{limiters: limiterMap}

	tracker := NewPerformanceTrackerWithThresholds(5, time.Minute)
	balancer := NewLoadBalancer(config.BalancerConfig{
		Enabled:  true,
		Strategy: config.StrategyRoundRobin,
	}, registry, tracker, limiterSet)

	sink := &captureSink{}
	service := NewService(registry, NewClientPool(pooled...), limiterSet, tracker, balancer, sink)
	// Fast retries keep the test suite snappy.
	service.retry = retryPolicy{
		maxAttempts:    3,
		initialBackoff: time.Millisecond,
		maxBackoff:     5 * time.Millisecond,
	}

	return &fixture{
		service:  service,
		registry: registry,
		tracker:  tracker,
		balancer: balancer,
		clients:  clients,
		limiters: limiters,
		sink:     sink,
	}
}

// allBalances sums acquire/release counts across every scope.
func (f *fixture) allBalances() (acquired, released int) {
	for _, l := range f.limiters {
		a, r := l.balance()
		acquired += a
		released += r
	}
	return acquired, released
}

// failAlways scripts a client to fail every call with the given error.
func failAlways(c *fakeClient, err error) {
	c.chatFn = func(int) (*models.ChatResult, error) { return nil, err }
	c.streamErr = err
}
