package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings. PoolSize is the steady-state pool;
	// MaxOverflow is the extra headroom allowed under load.
	PoolSize        int
	MaxOverflow     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	poolSize, _ := strconv.Atoi(getEnvOrDefault("DATABASE_POOL_SIZE", "15"))
	maxOverflow, _ := strconv.Atoi(getEnvOrDefault("DATABASE_MAX_OVERFLOW", "30"))

	return Config{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "thinkmaps"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "thinkmaps"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		PoolSize:        poolSize,
		MaxOverflow:     maxOverflow,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// DSN returns the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MaxConns returns the hard connection ceiling (pool plus overflow).
func (c Config) MaxConns() int32 {
	return int32(c.PoolSize + c.MaxOverflow)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
