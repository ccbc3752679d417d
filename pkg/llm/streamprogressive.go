package llm

import (
	"context"
	"sync"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// StreamProgressive fans the prompt out across the requested logical models
// and multiplexes their token streams onto one channel.
//
// Load balancing is applied per model entry, not per batch: two "deepseek"
// entries in the same call may land on different physical routes. Each
// mapped route gets one producer goroutine consuming ChatStream with the
// mapping pinned (SkipLoadBalancing), publishing to the shared channel.
//
// Guarantees, for N requested models:
//   - exactly N terminal events (complete or error), one per entry;
//   - token events from one model preserve that model's provider order;
//   - tokens across models interleave arbitrarily;
//   - abandoning the consumer cancels every producer, and each cancelled
//     producer releases its rate-limiter slot on the way out.
func (s *Service) StreamProgressive(ctx context.Context, req *Request, modelNames []string) <-chan models.ProgressiveEvent {
	out := make(chan models.ProgressiveEvent)
	fanCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for _, name := range modelNames {
		wg.Add(1)
		go func(logical string) {
			defer wg.Done()
			s.runProducer(fanCtx, req, logical, out)
		}(name)
	}

	// The consumer outlives the slowest producer: the channel closes only
	// after every producer has published its terminal event.
	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()

	return out
}

// runProducer streams one model and publishes its events. It always ends
// with exactly one terminal event for its logical model.
func (s *Service) runProducer(ctx context.Context, base *Request, logical string, out chan<- models.ProgressiveEvent) {
	start := time.Now()

	publish := func(event models.ProgressiveEvent) bool {
		event.Timestamp = time.Now()
		select {
		case out <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	terminalError := func(err error) {
		publish(models.ProgressiveEvent{
			Event:    models.EventError,
			LLM:      logical,
			Error:    sanitizeError(err),
			Duration: time.Since(start),
		})
	}

	// Per-entry mapping: resolve the route now and pin it for the stream.
	req := fanOutRequest(base, logical)
	if !req.SkipLoadBalancing && s.models.IsLogical(logical) {
		physical, err := s.balancer.Map(ctx, logical)
		if err != nil {
			terminalError(err)
			return
		}
		req.Model = physical
		req.SkipLoadBalancing = true
	}
	req.YieldStructured = false

	stream, err := s.ChatStream(ctx, req)
	if err != nil {
		terminalError(err)
		return
	}

	tokenCount := 0
	for chunk := range stream {
		if chunk.Err != nil {
			terminalError(chunk.Err)
			return
		}
		if chunk.Type != models.ChunkToken {
			continue
		}
		tokenCount++
		if !publish(models.ProgressiveEvent{
			Event: models.EventToken,
			LLM:   logical,
			Token: chunk.Content,
		}) {
			// Consumer is gone; ChatStream's pump sees the same
			// cancellation and settles the limiter slot.
			return
		}
	}

	publish(models.ProgressiveEvent{
		Event:      models.EventComplete,
		LLM:        logical,
		Duration:   time.Since(start),
		TokenCount: tokenCount,
	})
}
