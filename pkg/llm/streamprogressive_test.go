package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

func collectEvents(events <-chan models.ProgressiveEvent) []models.ProgressiveEvent {
	var out []models.ProgressiveEvent
	for e := range events {
		out = append(out, e)
	}
	return out
}

func terminalEvents(events []models.ProgressiveEvent) []models.ProgressiveEvent {
	var out []models.ProgressiveEvent
	for _, e := range events {
		if e.Event != models.EventToken {
			out = append(out, e)
		}
	}
	return out
}

func TestService_StreamProgressive(t *testing.T) {
	f := newFixture(t)
	modelNames := []string{"qwen", "kimi", "doubao"}

	events := collectEvents(f.service.StreamProgressive(context.Background(),
		&Request{Prompt: "hi"}, modelNames))

	terminals := terminalEvents(events)
	require.Len(t, terminals, len(modelNames), "exactly one terminal event per model")

	seen := map[string]models.ProgressiveEvent{}
	for _, e := range terminals {
		seen[e.LLM] = e
	}
	for _, name := range modelNames {
		e, ok := seen[name]
		require.True(t, ok, "terminal for %s", name)
		assert.Equal(t, models.EventComplete, e.Event)
		assert.Equal(t, 2, e.TokenCount)
		assert.Positive(t, e.Duration)
		assert.False(t, e.Timestamp.IsZero())
	}

	t.Run("per-model token order preserved", func(t *testing.T) {
		var qwenTokens []string
		for _, e := range events {
			if e.Event == models.EventToken && e.LLM == "qwen" {
				qwenTokens = append(qwenTokens, e.Token)
			}
		}
		assert.Equal(t, []string{"qwen-t1", "qwen-t2"}, qwenTokens)
	})
}

func TestService_StreamProgressiveDuplicateEntries(t *testing.T) {
	f := newFixture(t)

	// Two deepseek entries map independently; each produces its own
	// terminal event for the same logical name.
	events := collectEvents(f.service.StreamProgressive(context.Background(),
		&Request{Prompt: "hi"}, []string{"deepseek", "deepseek"}))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 2)
	for _, e := range terminals {
		assert.Equal(t, "deepseek", e.LLM)
		assert.Equal(t, models.EventComplete, e.Event)
	}

	// With round-robin each entry lands on a different physical route.
	assert.Equal(t, 1, f.clients["deepseek"].callCount())
	assert.Equal(t, 1, f.clients["ark-deepseek"].callCount())
}

func TestService_StreamProgressivePartialFailure(t *testing.T) {
	f := newFixture(t)
	f.clients["ark-kimi"].streamErr = NewError(KindRateLimited, "ark-kimi", "429", nil)

	events := collectEvents(f.service.StreamProgressive(context.Background(),
		&Request{Prompt: "hi"}, []string{"qwen", "kimi"}))

	terminals := terminalEvents(events)
	require.Len(t, terminals, 2)

	byName := map[string]models.ProgressiveEvent{}
	for _, e := range terminals {
		byName[e.LLM] = e
	}
	assert.Equal(t, models.EventComplete, byName["qwen"].Event)

	kimi := byName["kimi"]
	assert.Equal(t, models.EventError, kimi.Event)
	assert.Equal(t, "rate_limit", kimi.Error, "sanitized kind, not the upstream string")
	assert.False(t, strings.Contains(kimi.Error, "429"))
}

func TestService_StreamProgressiveAllFail(t *testing.T) {
	f := newFixture(t)
	for _, c := range f.clients {
		failAlways(c, NewError(KindServiceError, c.name, "down", nil))
	}

	modelNames := []string{"qwen", "kimi", "doubao", "deepseek"}
	events := collectEvents(f.service.StreamProgressive(context.Background(),
		&Request{Prompt: "hi"}, modelNames))

	terminals := terminalEvents(events)
	require.Len(t, terminals, len(modelNames), "N error events, then clean termination")
	for _, e := range terminals {
		assert.Equal(t, models.EventError, e.Event)
	}
}

func TestService_StreamProgressiveMidStreamError(t *testing.T) {
	f := newFixture(t)
	f.clients["qwen"].streamFn = func(context.Context) []models.StreamChunk {
		return []models.StreamChunk{
			{Type: models.ChunkToken, Content: "partial"},
			{Err: NewError(KindTimeout, "qwen", "stalled", nil)},
		}
	}

	events := collectEvents(f.service.StreamProgressive(context.Background(),
		&Request{Prompt: "hi"}, []string{"qwen"}))

	require.GreaterOrEqual(t, len(events), 2)
	last := events[len(events)-1]
	assert.Equal(t, models.EventError, last.Event)
	assert.Equal(t, "timeout", last.Error)

	// The partial token still reached the consumer before the error.
	assert.Equal(t, models.EventToken, events[0].Event)
	assert.Equal(t, "partial", events[0].Token)
}

func TestService_StreamProgressiveAbandoned(t *testing.T) {
	f := newFixture(t)
	for _, c := range f.clients {
		c.delay = 10 * time.Millisecond
		c.streamFn = func(context.Context) []models.StreamChunk {
			chunks := make([]models.StreamChunk, 50)
			for i := range chunks {
				chunks[i] = models.StreamChunk{Type: models.ChunkToken, Content: "x"}
			}
			return chunks
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := f.service.StreamProgressive(ctx, &Request{Prompt: "hi"},
		[]string{"qwen", "kimi", "doubao"})

	<-events
	cancel()

	// Producers shut down and every limiter slot is released.
	require.Eventually(t, func() bool {
		acquired, released := f.allBalances()
		return acquired > 0 && acquired == released
	}, 2*time.Second, 10*time.Millisecond)

	// The channel eventually closes even though the consumer walked away.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
