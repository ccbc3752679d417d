package llm

import (
	"context"
	"sync"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// Race fans the prompt out to every requested logical model and returns the
// first successful completion, cancelling the rest. Cancelled branches
// release their rate-limiter slots and are recorded as failures for metrics
// without tripping the breaker. If every model fails, an aggregate failure
// is returned.
func (s *Service) Race(ctx context.Context, req *Request, modelNames []string) (models.ModelResult, error) {
	if len(modelNames) == 0 {
		return models.ModelResult{}, NewError(KindInputInvalid, "", "at least one model is required", nil)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan models.ModelResult, len(modelNames))
	var wg sync.WaitGroup

	for _, name := range modelNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			results <- s.callOne(raceCtx, fanOutRequest(req, name))
		}(name)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastFailure models.ModelResult
	for result := range results {
		if result.Success {
			cancel()
			// Drain the rest so every goroutine can exit; the buffered
			// channel guarantees none of them blocks.
			go func() {
				for range results {
				}
			}()
			return result, nil
		}
		lastFailure = result
	}

	return lastFailure, NewError(KindServiceError, "", "all models failed", ErrAllModelsFailed)
}
