package llm

import (
	"context"
	"sync"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// fanOutRequest clones the base request for one fan-out branch.
func fanOutRequest(base *Request, model string) *Request {
	req := *base
	req.Model = model
	return &req
}

// Multi fans the prompt out to every requested logical model concurrently
// and waits for all of them. One provider failing does not abort the rest;
// its entry carries the sanitized error instead. Duplicate model names
// collapse onto one map entry.
func (s *Service) Multi(ctx context.Context, req *Request, modelNames []string) map[string]models.ModelResult {
	results := make(map[string]models.ModelResult, len(modelNames))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, name := range modelNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result := s.callOne(ctx, fanOutRequest(req, name))
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return results
}

// Progressive fans out like Multi but yields each model's final result as
// soon as that model finishes, in completion order. The returned channel
// carries exactly one result per requested model (failed models yield an
// error result) and is closed afterwards.
func (s *Service) Progressive(ctx context.Context, req *Request, modelNames []string) <-chan models.ModelResult {
	out := make(chan models.ModelResult)
	var wg sync.WaitGroup

	for _, name := range modelNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result := s.callOne(ctx, fanOutRequest(req, name))
			select {
			case out <- result:
			case <-ctx.Done():
			}
		}(name)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// callOne runs the full chat pipeline for one branch and shapes the outcome
// into a ModelResult. The result always carries the logical name the caller
// asked for.
func (s *Service) callOne(ctx context.Context, req *Request) models.ModelResult {
	start := time.Now()
	content, err := s.Chat(ctx, req)
	result := models.ModelResult{
		LLM:      req.Model,
		Duration: time.Since(start),
		Success:  err == nil,
	}
	if err != nil {
		result.Error = sanitizeError(err)
		return result
	}
	result.Content = content
	return result
}

// sanitizeError reduces an error to its stable kind plus the safe message.
// Upstream error strings never reach callers.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return string(KindOf(err))
}
