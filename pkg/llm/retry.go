package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 8 * time.Second

	// rateLimitBackoffFactor lengthens the backoff after an upstream 429.
	rateLimitBackoffFactor = 4
)

// retryPolicy runs an operation with exponential backoff and jitter.
// Non-retriable kinds (input, quota, response-invalid, cancellation) stop
// immediately; quota exhaustion and auth failures are never retried.
type retryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// do runs fn up to maxAttempts times. The deadline on ctx bounds the whole
// sequence including backoff sleeps, so the per-attempt budget shrinks as
// attempts accumulate.
func (p retryPolicy) do(ctx context.Context, model string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := p.backoff(attempt, KindOf(lastErr))
			slog.Warn("LLM call failed, retrying",
				"model", model,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return NewError(KindTimeout, model, "retry budget exhausted", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retriable(KindOf(lastErr)) {
			return lastErr
		}
	}

	return lastErr
}

// backoff computes the sleep before the given attempt (1-indexed), with
// full jitter. Rate-limited failures back off longer.
func (p retryPolicy) backoff(attempt int, kind ErrorKind) time.Duration {
	d := p.initialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if kind == KindRateLimited {
		d *= rateLimitBackoffFactor
	}
	if d > p.maxBackoff {
		d = p.maxBackoff
	}
	// Full jitter: uniform in [d/2, d).
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)))
}
