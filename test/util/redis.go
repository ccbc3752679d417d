package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	sharedRedisAddr string
	redisOnce       sync.Once
	redisErr        error
)

// SetupTestRedis returns a client for the shared Redis test container (or
// the CI instance when CI_REDIS_ADDR is set) on a unique logical database,
// flushed when the test finishes.
func SetupTestRedis(t *testing.T) *goredis.Client {
	addr := getOrCreateSharedRedis(t)

	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: pickTestDB()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func getOrCreateSharedRedis(t *testing.T) string {
	if ciAddr := os.Getenv("CI_REDIS_ADDR"); ciAddr != "" {
		t.Log("Using external Redis from CI_REDIS_ADDR")
		return ciAddr
	}

	redisOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared Redis testcontainer")

		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = fmt.Errorf("failed to start redis container: %w", err)
			return
		}
		endpoint, err := container.Endpoint(ctx, "")
		if err != nil {
			redisErr = fmt.Errorf("failed to get redis endpoint: %w", err)
			return
		}
		sharedRedisAddr = endpoint
	})

	require.NoError(t, redisErr, "Failed to set up shared Redis container")
	return sharedRedisAddr
}

var (
	dbCounterMu sync.Mutex
	dbCounter   int
)

// pickTestDB hands each test its own logical database, cycling through the
// 16 Redis defaults.
func pickTestDB() int {
	dbCounterMu.Lock()
	defer dbCounterMu.Unlock()
	db := dbCounter % 16
	dbCounter++
	return db
}
