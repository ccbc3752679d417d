package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps diagram types to the agents that generate them. Registration
// happens at startup; lookups afterwards are concurrent.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its diagram type. Registering the same type
// twice is a configuration bug and returns an error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	diagramType := a.DiagramType()
	if diagramType == "" {
		return fmt.Errorf("agent has empty diagram type")
	}
	if _, exists := r.agents[diagramType]; exists {
		return fmt.Errorf("agent already registered for diagram type %q", diagramType)
	}
	r.agents[diagramType] = a
	return nil
}

// Get returns the agent for a diagram type.
func (r *Registry) Get(diagramType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[diagramType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDiagramType, diagramType)
	}
	return a, nil
}

// Has reports whether an agent is registered for the diagram type.
func (r *Registry) Has(diagramType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[diagramType]
	return ok
}

// DiagramTypes returns the sorted set of registered diagram types.
// The returned slice is a copy.
func (r *Registry) DiagramTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.agents))
	for diagramType := range r.agents {
		types = append(types, diagramType)
	}
	sort.Strings(types)
	return types
}
