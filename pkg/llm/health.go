package llm

import (
	"context"
	"sync"
	"time"
)

const (
	healthProbePrompt  = "ping"
	healthProbeTimeout = 15 * time.Second
)

// ModelHealth is the probe outcome for one logical model. Upstream error
// strings are classified, never echoed.
type ModelHealth struct {
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency,omitempty"`
	ErrorType ErrorKind     `json:"error_type,omitempty"`
}

// HealthReport summarizes a fan-out probe over all logical models.
type HealthReport struct {
	AvailableModels []string               `json:"available_models"`
	Models          map[string]ModelHealth `json:"models"`
}

// HealthCheck probes every configured logical model in parallel with a
// minimal prompt. With load balancing enabled the logical set is the whole
// surface; physical routes are not probed separately.
func (s *Service) HealthCheck(ctx context.Context) *HealthReport {
	logicalModels := s.models.LogicalModels()
	report := &HealthReport{
		Models: make(map[string]ModelHealth, len(logicalModels)),
	}

	maxTokens := 8
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, name := range logicalModels {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			start := time.Now()
			_, err := s.Chat(ctx, &Request{
				Prompt:    healthProbePrompt,
				Model:     name,
				MaxTokens: &maxTokens,
				Timeout:   healthProbeTimeout,
			})
			latency := time.Since(start)

			health := ModelHealth{Status: "healthy", Latency: latency}
			if err != nil {
				health = ModelHealth{Status: "unhealthy", ErrorType: KindOf(err)}
			}

			mu.Lock()
			report.Models[name] = health
			if err == nil {
				report.AvailableModels = append(report.AvailableModels, name)
			}
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return report
}
