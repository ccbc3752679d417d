// Package llm is the LLM orchestration core: provider clients, client pool,
// rate limiting, circuit breaking, load balancing, and the Service façade
// that agents call.
package llm

import (
	"context"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// ChatOptions are the per-call knobs passed through to a provider.
type ChatOptions struct {
	Temperature    *float64
	MaxTokens      *int
	EnableThinking bool
	Extra          map[string]any
}

// ProviderClient is the single-endpoint transport. One instance exists per
// physical model; implementations differ per wire format but are
// interchangeable at the pool level.
//
// Timeouts and retries are the caller's responsibility; a ProviderClient only
// wraps the transport. A non-success upstream status is always surfaced as an
// error, never converted into an empty result.
type ProviderClient interface {
	// Name returns the physical model name this client serves.
	Name() string

	// Chat performs one blocking chat completion.
	Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (*models.ChatResult, error)

	// ChatStream performs one streaming chat completion. The returned
	// channel is closed when the stream ends; if the upstream reports
	// usage, exactly one usage chunk precedes the close. A chunk with a
	// non-nil Err terminates the stream abnormally.
	ChatStream(ctx context.Context, messages []models.Message, opts ChatOptions) (<-chan models.StreamChunk, error)
}
