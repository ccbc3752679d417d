package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// userIDHeader carries the authenticated user identity set by the gateway.
// Authentication itself happens upstream of this service.
const userIDHeader = "X-User-ID"

const userIDKey = "userID"

// requestLogger logs one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			slog.Error("Request failed", attrs...)
		} else {
			slog.Info("Request completed", attrs...)
		}
	}
}

// requireUser extracts the user identity header and aborts with 401 when it
// is missing.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			respondError(c, http.StatusUnauthorized, "unauthorized", "missing user identity")
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
