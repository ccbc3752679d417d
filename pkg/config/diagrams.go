package config

import "time"

// DiagramCacheConfig controls the Redis-first diagram cache and its
// background reconciliation to the durable store.
type DiagramCacheConfig struct {
	// CacheTTL is the TTL applied to cached diagram records and list caches.
	CacheTTL time.Duration

	// SyncInterval is the minimum time between reconciliation cycles.
	SyncInterval time.Duration

	// SyncBatchSize bounds how many pending/dirty entries one cycle drains.
	SyncBatchSize int

	// MaxPerUser is the quota of non-deleted diagrams per user.
	MaxPerUser int

	// MaxSpecSizeKB bounds the serialized diagram spec.
	MaxSpecSizeKB int
}

// LoadDiagramCacheConfig reads diagram cache configuration from the
// environment.
func LoadDiagramCacheConfig() DiagramCacheConfig {
	return DiagramCacheConfig{
		CacheTTL:      getEnvSeconds("DIAGRAM_CACHE_TTL", 604800*time.Second),
		SyncInterval:  getEnvSeconds("DIAGRAM_SYNC_INTERVAL", 300*time.Second),
		SyncBatchSize: getEnvInt("DIAGRAM_SYNC_BATCH_SIZE", 100),
		MaxPerUser:    getEnvInt("DIAGRAM_MAX_PER_USER", 20),
		MaxSpecSizeKB: getEnvInt("DIAGRAM_MAX_SPEC_SIZE_KB", 500),
	}
}
