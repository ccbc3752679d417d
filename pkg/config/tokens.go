package config

import "time"

// TokenTrackerConfig controls the asynchronous usage write path.
type TokenTrackerConfig struct {
	Enabled bool

	// BatchSize is the buffered-record count that triggers a flush.
	BatchSize int

	// BatchInterval is the maximum time between flushes.
	BatchInterval time.Duration

	// MaxBufferSize bounds the in-memory queue. Records beyond it are
	// dropped with a warning rather than blocking callers.
	MaxBufferSize int
}

// LoadTokenTrackerConfig reads token tracker configuration from the
// environment.
func LoadTokenTrackerConfig() TokenTrackerConfig {
	return TokenTrackerConfig{
		Enabled:       getEnvBool("TOKEN_TRACKER_ENABLED", true),
		BatchSize:     getEnvInt("TOKEN_TRACKER_BATCH_SIZE", 1000),
		BatchInterval: getEnvSeconds("TOKEN_TRACKER_BATCH_INTERVAL", 300*time.Second),
		MaxBufferSize: getEnvInt("TOKEN_TRACKER_MAX_BUFFER_SIZE", 10000),
	}
}
