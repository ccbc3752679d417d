package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// UsageSink receives usage records for asynchronous persistence. Track must
// never block the caller.
type UsageSink interface {
	Track(rec models.UsageRecord)
}

// Request describes one chat call against a logical model.
type Request struct {
	// Prompt is the user prompt. Ignored when Messages is set.
	Prompt string

	// Messages is the full message list. When empty, one is built from
	// System and Prompt.
	Messages []models.Message

	// Model is the logical model name, or a physical model name when
	// SkipLoadBalancing is set.
	Model string

	// System is an optional system message prepended to the prompt.
	System string

	Temperature *float64
	MaxTokens   *int

	// Timeout overrides the per-model default for the whole call,
	// including retries.
	Timeout time.Duration

	// SkipLoadBalancing treats Model as an already-resolved physical
	// model. Used by the fan-out paths, which map each model up front.
	SkipLoadBalancing bool

	// EnableThinking requests reasoning tokens from capable providers.
	EnableThinking bool

	// YieldStructured selects structured stream chunks over plain content
	// strings in ChatStream.
	YieldStructured bool

	// Tracking attributes usage to a user, session, and endpoint.
	Tracking *models.Tracking
}

// Service is the single façade agents call. It owns route resolution, rate
// limiting, retries, circuit breaking, metrics, and token tracking around
// every provider call.
type Service struct {
	models   *config.ModelRegistry
	pool     *ClientPool
	limiters *LimiterSet
	tracker  *PerformanceTracker
	balancer *LoadBalancer
	usage    UsageSink
	retry    retryPolicy
}

// NewService wires the façade. usage may be nil (tracking disabled).
func NewService(registry *config.ModelRegistry, pool *ClientPool, limiters *LimiterSet, tracker *PerformanceTracker, balancer *LoadBalancer, usage UsageSink) *Service {
	return &Service{
		models:   registry,
		pool:     pool,
		limiters: limiters,
		tracker:  tracker,
		balancer: balancer,
		usage:    usage,
		retry:    defaultRetryPolicy(),
	}
}

// Tracker exposes the performance tracker for reporting surfaces.
func (s *Service) Tracker() *PerformanceTracker { return s.tracker }

// Balancer exposes the balancer for reporting surfaces.
func (s *Service) Balancer() *LoadBalancer { return s.balancer }

// Limiters exposes the limiter set for reporting surfaces.
func (s *Service) Limiters() *LimiterSet { return s.limiters }

// resolved is the outcome of route resolution for one call.
type resolved struct {
	logical  string
	physical string
	route    *config.ModelRoute
	client   ProviderClient
	limiter  Limiter
}

// resolve maps the request's model to a physical route and looks up the
// client and limiter for it. The breaker filter runs inside the balancer;
// a fully unavailable logical model fails here without touching anything.
func (s *Service) resolve(ctx context.Context, req *Request) (*resolved, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, NewError(KindInputInvalid, "", "model is required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		return nil, NewError(KindInputInvalid, req.Model, "prompt is required", nil)
	}

	physical := req.Model
	if !req.SkipLoadBalancing {
		mapped, err := s.balancer.Map(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		physical = mapped
	} else if !s.tracker.CanCall(physical) {
		return nil, NewError(KindCircuitOpen, physical, "route unavailable", ErrNoRouteAvailable)
	}

	route, err := s.models.Route(physical)
	if err != nil {
		return nil, NewError(KindInputInvalid, physical, "unknown model", err)
	}
	client, err := s.pool.Get(physical)
	if err != nil {
		return nil, NewError(KindInputInvalid, physical, "unknown model", err)
	}

	return &resolved{
		logical:  req.Model,
		physical: physical,
		route:    route,
		client:   client,
		limiter:  s.limiters.ForRoute(route),
	}, nil
}

// buildMessages assembles the outgoing message list.
func buildMessages(req *Request) []models.Message {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	msgs := make([]models.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: req.System})
	}
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: req.Prompt})
	return msgs
}

func (s *Service) callTimeout(req *Request, route *config.ModelRoute) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return route.Timeout
}

func chatOptions(req *Request) ChatOptions {
	return ChatOptions{
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		EnableThinking: req.EnableThinking,
	}
}

// Chat runs one chat completion and returns the response content. Usage is
// enqueued to the tracker; missing usage data is tolerated.
func (s *Service) Chat(ctx context.Context, req *Request) (string, error) {
	content, usage, duration, err := s.chat(ctx, req)
	if err != nil {
		return "", err
	}
	s.trackUsage(req, usage, true, duration)
	return content, nil
}

// ChatWithUsage runs one chat completion and returns both content and the
// provider-reported usage. The caller owns token tracking in this variant;
// typically because attribution (e.g. the parsed diagram type) is only known
// after post-processing.
func (s *Service) ChatWithUsage(ctx context.Context, req *Request) (string, *models.Usage, error) {
	content, usage, _, err := s.chat(ctx, req)
	if err != nil {
		return "", nil, err
	}
	return content, usage, nil
}

// chat is the shared non-streaming pipeline: resolve, limit, retry, record.
func (s *Service) chat(ctx context.Context, req *Request) (string, *models.Usage, time.Duration, error) {
	r, err := s.resolve(ctx, req)
	if err != nil {
		return "", nil, 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout(req, r.route))
	defer cancel()

	if err := r.limiter.Acquire(callCtx); err != nil {
		return "", nil, 0, err
	}
	defer r.limiter.Release(context.WithoutCancel(ctx))

	start := time.Now()
	var result *models.ChatResult

	err = s.retry.do(callCtx, r.physical, func(ctx context.Context) error {
		res, callErr := r.client.Chat(ctx, buildMessages(req), chatOptions(req))
		if callErr != nil {
			return callErr
		}
		if strings.TrimSpace(res.Content) == "" {
			return NewError(KindResponseInvalid, r.physical, "empty response", ErrEmptyResponse)
		}
		result = res
		return nil
	})

	duration := time.Since(start)
	s.record(r, err == nil, duration, err)

	if err != nil {
		return "", nil, duration, err
	}
	return result.Content, result.Usage, duration, nil
}

// record updates the breaker and the balancer analytics after one call.
func (s *Service) record(r *resolved, success bool, duration time.Duration, err error) {
	kind := ErrorKind("")
	if err != nil {
		kind = KindOf(err)
	}
	s.tracker.Record(r.physical, success, duration, kind)
	s.balancer.RecordProviderMetrics(r.route.Provider, success, duration)

	if err != nil {
		slog.Warn("LLM call failed",
			"logical_model", r.logical,
			"physical_model", r.physical,
			"duration", duration,
			"error_kind", kind,
			"error", err)
	}
}

// trackUsage enqueues one usage record. Non-blocking; missing usage data is
// tolerated (token counts stay zero).
func (s *Service) trackUsage(req *Request, usage *models.Usage, success bool, responseTime time.Duration) {
	if s.usage == nil {
		return
	}

	rec := models.UsageRecord{
		ModelAlias:   req.Model,
		Success:      success,
		ResponseTime: responseTime,
		CreatedAt:    time.Now(),
	}
	if route, err := s.models.Route(req.Model); err == nil {
		rec.ModelProvider = string(route.Provider)
		rec.ModelName = route.UpstreamModel
	} else if cands, err := s.models.Candidates(req.Model); err == nil && len(cands) > 0 {
		if route, err := s.models.Route(cands[0]); err == nil {
			rec.ModelProvider = string(route.Provider)
			rec.ModelName = route.UpstreamModel
		}
	}
	if usage != nil {
		rec.InputTokens = usage.InputTokens
		rec.OutputTokens = usage.OutputTokens
		rec.TotalTokens = usage.TotalTokens
	}
	if t := req.Tracking; t != nil {
		rec.UserID = t.UserID
		rec.OrgID = t.OrgID
		rec.APIKeyID = t.APIKeyID
		rec.SessionID = t.SessionID
		rec.ConversationID = t.ConversationID
		rec.RequestType = t.RequestType
		rec.DiagramType = t.DiagramType
		rec.EndpointPath = t.EndpointPath
	}

	s.usage.Track(rec)
}
