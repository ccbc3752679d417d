package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thinkmaps/thinkmaps/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the service's own components are checked; remote LLM providers are
// deliberately excluded so an upstream outage cannot make the orchestrator
// restart this service. Use GET /api/llm/health for the provider probe.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := gin.H{}

	if s.db != nil {
		if _, err := s.db.Health(ctx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = gin.H{"status": healthStatusUnhealthy, "message": err.Error()}
		} else {
			checks["database"] = gin.H{"status": healthStatusHealthy}
		}
	}

	if s.diagrams != nil {
		checks["diagram_cache"] = s.diagrams.Stats(ctx)
	}

	if s.tracker != nil {
		checks["token_tracker"] = gin.H{
			"buffered": s.tracker.Buffered(),
			"flushed":  s.tracker.Flushed(),
			"dropped":  s.tracker.Dropped(),
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.GitCommit,
		"checks":  checks,
	})
}

// llmHealthHandler handles GET /api/llm/health: a live probe of every
// logical model. Slow by design; not for liveness checks.
func (s *Server) llmHealthHandler(c *gin.Context) {
	if s.llm == nil {
		respondError(c, http.StatusServiceUnavailable, "unavailable", "llm service not configured")
		return
	}
	c.JSON(http.StatusOK, s.llm.HealthCheck(c.Request.Context()))
}
