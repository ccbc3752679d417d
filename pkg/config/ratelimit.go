package config

// RateLimitConfig holds the QPM and concurrency ceilings for one scope.
type RateLimitConfig struct {
	Scope           Scope
	QPMLimit        int
	ConcurrentLimit int
	Enabled         bool
}

// RateLimits maps every limiter scope to its configuration.
type RateLimits map[Scope]RateLimitConfig

// LoadRateLimits reads the per-scope rate limit configuration from the
// environment. One shared limiter covers all Dashscope routes; each
// Volcengine endpoint has its own.
func LoadRateLimits() RateLimits {
	return RateLimits{
		ScopeDashscope: {
			Scope:           ScopeDashscope,
			QPMLimit:        getEnvInt("DASHSCOPE_QPM_LIMIT", 200),
			ConcurrentLimit: getEnvInt("DASHSCOPE_CONCURRENT_LIMIT", 50),
			Enabled:         getEnvBool("DASHSCOPE_RATE_LIMITING_ENABLED", true),
		},
		ScopeArkDeepseek: {
			Scope:           ScopeArkDeepseek,
			QPMLimit:        getEnvInt("DEEPSEEK_VOLCENGINE_QPM_LIMIT", 300),
			ConcurrentLimit: getEnvInt("DEEPSEEK_VOLCENGINE_CONCURRENT_LIMIT", 50),
			Enabled:         true,
		},
		ScopeArkKimi: {
			Scope:           ScopeArkKimi,
			QPMLimit:        getEnvInt("KIMI_QPM_LIMIT", 300),
			ConcurrentLimit: getEnvInt("KIMI_CONCURRENT_LIMIT", 50),
			Enabled:         true,
		},
		ScopeArkDoubao: {
			Scope:           ScopeArkDoubao,
			QPMLimit:        getEnvInt("DOUBAO_QPM_LIMIT", 300),
			ConcurrentLimit: getEnvInt("DOUBAO_CONCURRENT_LIMIT", 50),
			Enabled:         true,
		},
	}
}
