// Thinkmaps orchestration server: routes LLM calls across providers under
// rate and concurrency budgets, tracks token usage, and serves the
// Redis-first diagram store over HTTP.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thinkmaps/thinkmaps/pkg/api"
	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/database"
	"github.com/thinkmaps/thinkmaps/pkg/diagrams"
	"github.com/thinkmaps/thinkmaps/pkg/llm"
	"github.com/thinkmaps/thinkmaps/pkg/llm/providers/openaicompat"
	"github.com/thinkmaps/thinkmaps/pkg/redisx"
	"github.com/thinkmaps/thinkmaps/pkg/tokens"
	"github.com/thinkmaps/thinkmaps/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting thinkmaps", "version", version.Full(), "http_port", httpPort)
	ctx := context.Background()

	// 1. Load configuration
	cfg := config.Load()
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"logical_models", stats.LogicalModels,
		"physical_models", stats.PhysicalModels,
		"limiter_scopes", stats.LimiterScopes)

	// 2. Connect to PostgreSQL (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Connect to Redis. A failure here is tolerated: the rate limiters
	// fall back to per-process memory and the diagram cache writes through
	// to the store directly.
	rdb, err := redisx.NewClient(ctx, redisx.LoadConfigFromEnv())
	if err != nil {
		slog.Warn("Redis unavailable, running in fallback mode", "error", err)
		rdb = nil
	} else {
		slog.Info("Connected to Redis")
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
	}

	// 4. Build the LLM orchestration core
	var clients []llm.ProviderClient
	for _, name := range cfg.Models.PhysicalModels() {
		route, err := cfg.Models.Route(name)
		if err != nil {
			slog.Error("Invalid model route", "model", name, "error", err)
			os.Exit(1)
		}
		clients = append(clients, openaicompat.New(route))
	}
	pool := llm.NewClientPool(clients...)

	limiters := llm.NewLimiterSet(cfg.RateLimits, rdb)
	perfTracker := llm.NewPerformanceTracker()
	balancer := llm.NewLoadBalancer(cfg.Balancer, cfg.Models, perfTracker, limiters)

	// 5. Token usage tracker (async batched writes)
	usageTracker := tokens.NewTracker(cfg.TokenTracker, tokens.NewPostgresStore(dbClient))
	defer usageTracker.Stop()

	llmService := llm.NewService(cfg.Models, pool, limiters, perfTracker, balancer, usageTracker)
	slog.Info("LLM core initialized", "providers", len(clients))

	// 6. Diagram cache with background sync
	diagramCache := diagrams.NewCache(cfg.DiagramCache, rdb, diagrams.NewPostgresStore(dbClient))
	defer diagramCache.Stop()

	// 7. HTTP server
	httpServer := api.NewServer(dbClient, llmService, diagramCache, usageTracker)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests first, then let the
	// deferred Stop calls drain the tracker and run a final sync cycle.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
