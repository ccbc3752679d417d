package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Provider identifies the upstream vendor an endpoint belongs to.
type Provider string

// Upstream providers.
const (
	ProviderDashscope  Provider = "dashscope"
	ProviderVolcengine Provider = "volcengine"
)

// Scope names a rate-limiter scope: the set of physical endpoints that share
// one limiter instance. All Dashscope routes share one scope; each Volcengine
// endpoint gets its own.
type Scope string

// Rate limiter scopes.
const (
	ScopeDashscope   Scope = "dashscope"
	ScopeArkDeepseek Scope = "ark-deepseek"
	ScopeArkKimi     Scope = "ark-kimi"
	ScopeArkDoubao   Scope = "ark-doubao"
)

// ModelRoute describes one physical model: a concrete provider endpoint the
// client pool holds a ProviderClient for.
type ModelRoute struct {
	// Name is the physical model name used throughout the core
	// (e.g. "ark-deepseek").
	Name string

	// Provider is the upstream vendor.
	Provider Provider

	// Scope selects the rate limiter shared by this route.
	Scope Scope

	// BaseURL is the chat-completions endpoint base URL.
	BaseURL string

	// APIKey is the resolved API key for this endpoint.
	APIKey string

	// UpstreamModel is the model identifier sent on the wire.
	UpstreamModel string

	// Timeout is the default overall call timeout for this route.
	Timeout time.Duration
}

// Default per-route call timeouts. Callers may override per call.
const (
	defaultRouteTimeout = 70 * time.Second
	turboRouteTimeout   = 30 * time.Second
)

// ModelRegistry holds the fixed logical-to-physical routing table and the
// physical route definitions. It is built once at startup and read-only
// afterwards.
type ModelRegistry struct {
	mu         sync.RWMutex
	routes     map[string]*ModelRoute
	candidates map[string][]string
}

// NewModelRegistry builds the registry from the environment. Base URLs and
// API keys come from env; the routing table itself is fixed.
func NewModelRegistry() *ModelRegistry {
	dashscopeURL := getEnvOrDefault("DASHSCOPE_BASE_URL",
		"https://dashscope.aliyuncs.com/compatible-mode/v1")
	arkURL := getEnvOrDefault("ARK_BASE_URL",
		"https://ark.cn-beijing.volces.com/api/v3")
	dashscopeKey := getEnvOrDefault("DASHSCOPE_API_KEY", "")
	arkKey := getEnvOrDefault("ARK_API_KEY", "")

	routes := map[string]*ModelRoute{
		"qwen": {
			Name:          "qwen",
			Provider:      ProviderDashscope,
			Scope:         ScopeDashscope,
			BaseURL:       dashscopeURL,
			APIKey:        dashscopeKey,
			UpstreamModel: getEnvOrDefault("QWEN_MODEL", "qwen-plus"),
			Timeout:       defaultRouteTimeout,
		},
		"qwen-turbo": {
			Name:          "qwen-turbo",
			Provider:      ProviderDashscope,
			Scope:         ScopeDashscope,
			BaseURL:       dashscopeURL,
			APIKey:        dashscopeKey,
			UpstreamModel: getEnvOrDefault("QWEN_TURBO_MODEL", "qwen-turbo"),
			Timeout:       turboRouteTimeout,
		},
		"deepseek": {
			Name:          "deepseek",
			Provider:      ProviderDashscope,
			Scope:         ScopeDashscope,
			BaseURL:       dashscopeURL,
			APIKey:        dashscopeKey,
			UpstreamModel: getEnvOrDefault("DEEPSEEK_MODEL", "deepseek-v3"),
			Timeout:       defaultRouteTimeout,
		},
		"ark-deepseek": {
			Name:          "ark-deepseek",
			Provider:      ProviderVolcengine,
			Scope:         ScopeArkDeepseek,
			BaseURL:       arkURL,
			APIKey:        arkKey,
			UpstreamModel: getEnvOrDefault("ARK_DEEPSEEK_MODEL", "deepseek-v3-250324"),
			Timeout:       defaultRouteTimeout,
		},
		"ark-kimi": {
			Name:          "ark-kimi",
			Provider:      ProviderVolcengine,
			Scope:         ScopeArkKimi,
			BaseURL:       arkURL,
			APIKey:        arkKey,
			UpstreamModel: getEnvOrDefault("ARK_KIMI_MODEL", "kimi-k2-250711"),
			Timeout:       defaultRouteTimeout,
		},
		"ark-doubao": {
			Name:          "ark-doubao",
			Provider:      ProviderVolcengine,
			Scope:         ScopeArkDoubao,
			BaseURL:       arkURL,
			APIKey:        arkKey,
			UpstreamModel: getEnvOrDefault("ARK_DOUBAO_MODEL", "doubao-seed-1-6-250615"),
			Timeout:       defaultRouteTimeout,
		},
	}

	// Fixed routings. Only deepseek is balanced across two routes; every
	// other logical model has exactly one candidate.
	candidates := map[string][]string{
		"qwen":       {"qwen"},
		"qwen-turbo": {"qwen-turbo"},
		"deepseek":   {"deepseek", "ark-deepseek"},
		"kimi":       {"ark-kimi"},
		"doubao":     {"ark-doubao"},
	}

	return &ModelRegistry{routes: routes, candidates: candidates}
}

// Route returns the physical route definition for a physical model name.
func (r *ModelRegistry) Route(physical string) (*ModelRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[physical]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, physical)
	}
	return route, nil
}

// Candidates returns the physical candidate set for a logical model name.
// The returned slice is a copy; callers may reorder it freely.
func (r *ModelRegistry) Candidates(logical string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cands, ok := r.candidates[logical]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, logical)
	}
	out := make([]string, len(cands))
	copy(out, cands)
	return out, nil
}

// IsLogical reports whether name is a known logical model.
func (r *ModelRegistry) IsLogical(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.candidates[name]
	return ok
}

// LogicalModels returns the sorted set of logical model names.
func (r *ModelRegistry) LogicalModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.candidates))
	for name := range r.candidates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PhysicalModels returns the sorted set of physical model names.
func (r *ModelRegistry) PhysicalModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
