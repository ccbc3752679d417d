package config

import "strings"

// BalancerStrategy selects how the load balancer picks among candidates.
type BalancerStrategy string

// Load balancing strategies.
const (
	StrategyWeighted   BalancerStrategy = "weighted"
	StrategyRoundRobin BalancerStrategy = "round_robin"
	StrategyRandom     BalancerStrategy = "random"
)

// BalancerConfig controls logical-to-physical route selection.
type BalancerConfig struct {
	Enabled        bool
	Strategy       BalancerStrategy
	Weights        map[Provider]int
	RateLimitAware bool
}

// LoadBalancerConfig reads load balancing configuration from the environment.
// Unrecognized strategy values fall back to weighted.
func LoadBalancerConfig() BalancerConfig {
	strategy := BalancerStrategy(strings.ToLower(
		getEnvOrDefault("LOAD_BALANCING_STRATEGY", string(StrategyWeighted))))
	switch strategy {
	case StrategyWeighted, StrategyRoundRobin, StrategyRandom:
	default:
		strategy = StrategyWeighted
	}

	return BalancerConfig{
		Enabled:  getEnvBool("LOAD_BALANCING_ENABLED", true),
		Strategy: strategy,
		Weights: map[Provider]int{
			ProviderDashscope:  getEnvInt("LOAD_BALANCING_WEIGHT_DASHSCOPE", 1),
			ProviderVolcengine: getEnvInt("LOAD_BALANCING_WEIGHT_VOLCENGINE", 1),
		},
		RateLimitAware: getEnvBool("LOAD_BALANCING_RATE_LIMITING_ENABLED", true),
	}
}
