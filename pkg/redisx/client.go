// Package redisx constructs the shared Redis client from the environment.
// Redis is an accelerator here, not a dependency: every consumer (rate
// limiter, diagram cache) carries a fallback for when it is unreachable.
package redisx

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

// LoadConfigFromEnv loads Redis configuration from environment variables.
// REDIS_URL takes precedence over the discrete host/port settings.
func LoadConfigFromEnv() Config {
	port, _ := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	return Config{
		URL:      os.Getenv("REDIS_URL"),
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}
}

// NewClient creates a Redis client and verifies connectivity with a short
// ping. A nil client with an error means callers should run in fallback
// mode, not that startup must fail.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	var client *redis.Client

	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
