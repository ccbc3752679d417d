// Package models contains the shared domain types exchanged between the LLM
// orchestration core, the agents, and the persistence layers.
package models

import "time"

// Role identifies the author of a chat message.
type Role string

// Chat message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message sent to or received from a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage holds token counts reported by a provider for one call.
// TotalTokens as reported by the API is authoritative when present.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatResult is the terminal result of a non-streaming chat call.
type ChatResult struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// StreamChunkType tags the variants of a structured stream chunk.
type StreamChunkType string

// Stream chunk variants.
const (
	// ChunkThinking carries reasoning tokens from reasoning-capable models.
	ChunkThinking StreamChunkType = "thinking"
	// ChunkToken carries response tokens.
	ChunkToken StreamChunkType = "token"
	// ChunkUsage is terminal; at most one is emitted per stream.
	ChunkUsage StreamChunkType = "usage"
)

// StreamChunk is one element of a structured provider stream.
type StreamChunk struct {
	Type    StreamChunkType `json:"type"`
	Content string          `json:"content,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
	// Err terminates the stream abnormally. It is never sent to API clients
	// verbatim; the service layer sanitizes it first.
	Err error `json:"-"`
}

// ProgressiveEventType tags events in a multi-provider progressive stream.
type ProgressiveEventType string

// Progressive stream event types.
const (
	EventToken    ProgressiveEventType = "token"
	EventComplete ProgressiveEventType = "complete"
	EventError    ProgressiveEventType = "error"
)

// ProgressiveEvent is one event of a streamed multi-provider fan-out.
// LLM always carries the logical model name the caller requested, not the
// physical route the call landed on.
type ProgressiveEvent struct {
	Event      ProgressiveEventType `json:"event"`
	LLM        string               `json:"llm"`
	Token      string               `json:"token,omitempty"`
	Duration   time.Duration        `json:"duration,omitempty"`
	TokenCount int                  `json:"token_count,omitempty"`
	Error      string               `json:"error,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// ModelResult is the per-model outcome of a multi or progressive fan-out.
type ModelResult struct {
	LLM      string        `json:"llm"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
}
