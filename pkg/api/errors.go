package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thinkmaps/thinkmaps/pkg/diagrams"
)

// errorBody is the standard error envelope for every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// respondServiceError maps diagram service errors to HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, diagrams.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "diagram not found")
	case errors.Is(err, diagrams.ErrQuotaExceeded):
		respondError(c, http.StatusForbidden, "quota_exceeded", "diagram quota reached")
	case errors.Is(err, diagrams.ErrSpecTooLarge):
		respondError(c, http.StatusRequestEntityTooLarge, "spec_too_large", "diagram spec exceeds the size limit")
	case errors.Is(err, diagrams.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		slog.Error("Unexpected service error",
			"path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
