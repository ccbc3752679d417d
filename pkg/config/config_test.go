package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelRegistry(t *testing.T) {
	registry := NewModelRegistry()

	t.Run("model sets", func(t *testing.T) {
		assert.Equal(t, []string{"deepseek", "doubao", "kimi", "qwen", "qwen-turbo"},
			registry.LogicalModels())
		assert.Equal(t, []string{"ark-deepseek", "ark-doubao", "ark-kimi", "deepseek", "qwen", "qwen-turbo"},
			registry.PhysicalModels())
	})

	t.Run("only deepseek is balanced", func(t *testing.T) {
		for _, logical := range registry.LogicalModels() {
			cands, err := registry.Candidates(logical)
			require.NoError(t, err)
			if logical == "deepseek" {
				assert.Equal(t, []string{"deepseek", "ark-deepseek"}, cands)
			} else {
				assert.Len(t, cands, 1, "logical %s has a fixed route", logical)
			}
		}
	})

	t.Run("candidates returns a copy", func(t *testing.T) {
		cands, err := registry.Candidates("deepseek")
		require.NoError(t, err)
		cands[0] = "mutated"

		again, err := registry.Candidates("deepseek")
		require.NoError(t, err)
		assert.Equal(t, "deepseek", again[0])
	})

	t.Run("dashscope routes share one scope", func(t *testing.T) {
		for _, name := range []string{"qwen", "qwen-turbo", "deepseek"} {
			route, err := registry.Route(name)
			require.NoError(t, err)
			assert.Equal(t, ProviderDashscope, route.Provider)
			assert.Equal(t, ScopeDashscope, route.Scope)
		}
	})

	t.Run("volcengine routes get dedicated scopes", func(t *testing.T) {
		scopes := map[string]Scope{
			"ark-deepseek": ScopeArkDeepseek,
			"ark-kimi":     ScopeArkKimi,
			"ark-doubao":   ScopeArkDoubao,
		}
		for name, scope := range scopes {
			route, err := registry.Route(name)
			require.NoError(t, err)
			assert.Equal(t, ProviderVolcengine, route.Provider)
			assert.Equal(t, scope, route.Scope)
		}
	})

	t.Run("timeouts", func(t *testing.T) {
		turbo, err := registry.Route("qwen-turbo")
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, turbo.Timeout)

		qwen, err := registry.Route("qwen")
		require.NoError(t, err)
		assert.Equal(t, 70*time.Second, qwen.Timeout)
	})

	t.Run("unknown names", func(t *testing.T) {
		_, err := registry.Route("gpt-4")
		assert.ErrorIs(t, err, ErrUnknownModel)

		_, err = registry.Candidates("gpt-4")
		assert.ErrorIs(t, err, ErrUnknownModel)

		assert.False(t, registry.IsLogical("gpt-4"))
		assert.True(t, registry.IsLogical("kimi"))
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("DASHSCOPE_BASE_URL", "http://localhost:9999/v1")
		t.Setenv("QWEN_MODEL", "qwen-max")
		t.Setenv("DASHSCOPE_API_KEY", "sk-test")

		route, err := NewModelRegistry().Route("qwen")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9999/v1", route.BaseURL)
		assert.Equal(t, "qwen-max", route.UpstreamModel)
		assert.Equal(t, "sk-test", route.APIKey)
	})
}

func TestLoadRateLimits(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		limits := LoadRateLimits()
		require.Len(t, limits, 4)

		dashscope := limits[ScopeDashscope]
		assert.Equal(t, 200, dashscope.QPMLimit)
		assert.Equal(t, 50, dashscope.ConcurrentLimit)
		assert.True(t, dashscope.Enabled)

		for _, scope := range []Scope{ScopeArkDeepseek, ScopeArkKimi, ScopeArkDoubao} {
			cfg := limits[scope]
			assert.Equal(t, scope, cfg.Scope)
			assert.Equal(t, 300, cfg.QPMLimit)
			assert.Equal(t, 50, cfg.ConcurrentLimit)
			assert.True(t, cfg.Enabled)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("DASHSCOPE_QPM_LIMIT", "10")
		t.Setenv("DASHSCOPE_RATE_LIMITING_ENABLED", "false")
		t.Setenv("KIMI_CONCURRENT_LIMIT", "5")

		limits := LoadRateLimits()
		assert.Equal(t, 10, limits[ScopeDashscope].QPMLimit)
		assert.False(t, limits[ScopeDashscope].Enabled)
		assert.Equal(t, 5, limits[ScopeArkKimi].ConcurrentLimit)
	})

	t.Run("garbage values fall back to defaults", func(t *testing.T) {
		t.Setenv("DASHSCOPE_QPM_LIMIT", "not-a-number")
		assert.Equal(t, 200, LoadRateLimits()[ScopeDashscope].QPMLimit)
	})
}

func TestLoadBalancerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadBalancerConfig()
		assert.True(t, cfg.Enabled)
		assert.Equal(t, StrategyWeighted, cfg.Strategy)
		assert.True(t, cfg.RateLimitAware)
		assert.Equal(t, 1, cfg.Weights[ProviderDashscope])
		assert.Equal(t, 1, cfg.Weights[ProviderVolcengine])
	})

	t.Run("strategy is case-insensitive", func(t *testing.T) {
		t.Setenv("LOAD_BALANCING_STRATEGY", "Round_Robin")
		assert.Equal(t, StrategyRoundRobin, LoadBalancerConfig().Strategy)
	})

	t.Run("unknown strategy falls back to weighted", func(t *testing.T) {
		t.Setenv("LOAD_BALANCING_STRATEGY", "least_connections")
		assert.Equal(t, StrategyWeighted, LoadBalancerConfig().Strategy)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("LOAD_BALANCING_ENABLED", "false")
		t.Setenv("LOAD_BALANCING_WEIGHT_VOLCENGINE", "3")

		cfg := LoadBalancerConfig()
		assert.False(t, cfg.Enabled)
		assert.Equal(t, 3, cfg.Weights[ProviderVolcengine])
	})
}

func TestLoadTokenTrackerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadTokenTrackerConfig()
		assert.True(t, cfg.Enabled)
		assert.Equal(t, 1000, cfg.BatchSize)
		assert.Equal(t, 300*time.Second, cfg.BatchInterval)
		assert.Equal(t, 10000, cfg.MaxBufferSize)
	})

	t.Run("interval is read in seconds", func(t *testing.T) {
		t.Setenv("TOKEN_TRACKER_BATCH_INTERVAL", "30")
		assert.Equal(t, 30*time.Second, LoadTokenTrackerConfig().BatchInterval)
	})
}

func TestLoadDiagramCacheConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadDiagramCacheConfig()
		assert.Equal(t, 7*24*time.Hour, cfg.CacheTTL)
		assert.Equal(t, 300*time.Second, cfg.SyncInterval)
		assert.Equal(t, 100, cfg.SyncBatchSize)
		assert.Equal(t, 20, cfg.MaxPerUser)
		assert.Equal(t, 500, cfg.MaxSpecSizeKB)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("DIAGRAM_CACHE_TTL", "3600")
		t.Setenv("DIAGRAM_MAX_PER_USER", "100")

		cfg := LoadDiagramCacheConfig()
		assert.Equal(t, time.Hour, cfg.CacheTTL)
		assert.Equal(t, 100, cfg.MaxPerUser)
	})
}

func TestLoadAndStats(t *testing.T) {
	cfg := Load()
	require.NotNil(t, cfg.Models)

	stats := cfg.Stats()
	assert.Equal(t, 5, stats.LogicalModels)
	assert.Equal(t, 6, stats.PhysicalModels)
	assert.Equal(t, 4, stats.LimiterScopes)
}
