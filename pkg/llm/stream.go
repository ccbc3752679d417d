package llm

import (
	"context"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// ChatStream runs one streaming chat completion. The rate-limiter slot is
// held for the whole life of the stream and released when it terminates,
// normally or not. If the provider reports usage in its final chunk, a usage
// record is enqueued after termination.
//
// With req.YieldStructured set the channel carries thinking, token, and
// usage chunks; otherwise thinking chunks are discarded and only token
// chunks (and a terminal error, if any) are forwarded.
func (s *Service) ChatStream(ctx context.Context, req *Request) (<-chan models.StreamChunk, error) {
	r, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout(req, r.route))

	if err := r.limiter.Acquire(callCtx); err != nil {
		cancel()
		return nil, err
	}

	upstream, err := r.client.ChatStream(callCtx, buildMessages(req), chatOptions(req))
	if err != nil {
		s.record(r, false, 0, err)
		r.limiter.Release(context.WithoutCancel(ctx))
		cancel()
		return nil, err
	}

	out := make(chan models.StreamChunk)
	go s.forwardStream(callCtx, cancel, r, req, upstream, out)
	return out, nil
}

// forwardStream pumps provider chunks to the caller, then settles metrics,
// usage, and the limiter slot exactly once.
func (s *Service) forwardStream(ctx context.Context, cancel context.CancelFunc, r *resolved, req *Request, upstream <-chan models.StreamChunk, out chan<- models.StreamChunk) {
	start := time.Now()
	var (
		usage     *models.Usage
		streamErr error
		produced  bool
	)

	defer func() {
		duration := time.Since(start)
		s.record(r, streamErr == nil, duration, streamErr)
		if streamErr == nil || usage != nil {
			s.trackUsage(req, usage, streamErr == nil, duration)
		}
		r.limiter.Release(context.WithoutCancel(ctx))
		cancel()
		close(out)
	}()

	for chunk := range upstream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			// Surface a terminal error chunk so the consumer can tell an
			// abnormal end from a normal close.
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return
		}

		switch chunk.Type {
		case models.ChunkUsage:
			usage = chunk.Usage
			if !req.YieldStructured {
				continue
			}
		case models.ChunkThinking:
			// Reasoning-only completions are still completions; the
			// thinking output counts against the emptiness check even
			// when it is not forwarded.
			produced = produced || chunk.Content != ""
			if !req.YieldStructured {
				continue
			}
		case models.ChunkToken:
			produced = produced || chunk.Content != ""
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			streamErr = NewError(KindCancelled, r.physical, "stream abandoned", ctx.Err())
			return
		}
	}

	if !produced && usage == nil {
		streamErr = NewError(KindResponseInvalid, r.physical, "empty stream", ErrEmptyResponse)
	}
}
