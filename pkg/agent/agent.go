// Package agent defines the boundary between the LLM orchestration core and
// the diagram generator agents built on top of it. Agents produce diagram
// specs; the core neither knows nor cares how. This package holds the
// contract and the registry, not agent internals.
package agent

import (
	"context"
	"encoding/json"
	"errors"
)

// Agent errors.
var (
	// ErrUnknownDiagramType indicates no agent is registered for the
	// requested diagram type.
	ErrUnknownDiagramType = errors.New("unknown diagram type")
)

// GenerateResult is the outcome of one graph generation.
type GenerateResult struct {
	// Success reports whether Spec is usable.
	Success bool `json:"success"`

	// Spec is the structured diagram specification.
	Spec json.RawMessage `json:"spec,omitempty"`

	// DiagramType is the concrete type the agent produced. Agents that
	// handle a family of types report the one they settled on.
	DiagramType string `json:"diagram_type"`

	// Error carries a caller-safe failure description when Success is false.
	Error string `json:"error,omitempty"`
}

// Agent is a producer of diagram specs for one diagram type.
type Agent interface {
	// DiagramType returns the type this agent handles (e.g. "bubble_map").
	DiagramType() string

	// GenerateGraph produces a diagram spec from a natural-language prompt.
	// Agent-level failures (the model produced an unusable spec) are
	// reported in the result; only infrastructure failures return an error.
	GenerateGraph(ctx context.Context, prompt, language string, params map[string]any) (*GenerateResult, error)

	// EnhanceSpec refines an existing spec, returning the improved version.
	// Agents without an enhancement step return the input unchanged.
	EnhanceSpec(ctx context.Context, spec json.RawMessage) (json.RawMessage, error)
}

// Classifier decides which diagram type a prompt asks for.
type Classifier interface {
	Classify(ctx context.Context, prompt, language string) (string, error)
}
