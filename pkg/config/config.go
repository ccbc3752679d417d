// Package config loads all service configuration from the environment at
// startup. Nothing here is hot-reloadable: the registries and limit tables
// are built once and treated as immutable afterwards.
package config

// Config is the umbrella configuration object returned by Load() and used
// throughout the application.
type Config struct {
	// Models is the fixed logical/physical routing table.
	Models *ModelRegistry

	// RateLimits holds per-scope QPM and concurrency ceilings.
	RateLimits RateLimits

	// Balancer controls logical-to-physical route selection.
	Balancer BalancerConfig

	// TokenTracker controls the asynchronous usage write path.
	TokenTracker TokenTrackerConfig

	// DiagramCache controls the Redis-first diagram cache.
	DiagramCache DiagramCacheConfig
}

// Load builds the full configuration from the environment.
func Load() *Config {
	return &Config{
		Models:       NewModelRegistry(),
		RateLimits:   LoadRateLimits(),
		Balancer:     LoadBalancerConfig(),
		TokenTracker: LoadTokenTrackerConfig(),
		DiagramCache: LoadDiagramCacheConfig(),
	}
}

// Stats contains statistics about loaded configuration for startup logging.
type Stats struct {
	LogicalModels  int
	PhysicalModels int
	LimiterScopes  int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		LogicalModels:  len(c.Models.LogicalModels()),
		PhysicalModels: len(c.Models.PhysicalModels()),
		LimiterScopes:  len(c.RateLimits),
	}
}
