// Package tokens is the asynchronous write path for LLM usage records: a
// bounded in-memory buffer drained by a background flusher that batches
// rows into the durable store. Per-request writes were the dominant source
// of write-lock contention; batching reduces them to one bulk insert per
// interval at steady state, bounding data loss to the buffer interval.
package tokens

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// Store persists usage batches. One call is one bulk insert.
type Store interface {
	InsertUsageBatch(ctx context.Context, records []models.UsageRecord) error
}

// Tracker buffers usage records and flushes them in batches. Track never
// blocks: on a full buffer the record is dropped with a warning; losing a
// usage row is preferred to slowing a user-visible path.
type Tracker struct {
	cfg   config.TokenTrackerConfig
	store Store

	queue    chan models.UsageRecord
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	dropped atomic.Int64
	flushed atomic.Int64
}

// NewTracker creates a tracker. The background flusher starts immediately
// when tracking is enabled, so Stop always waits for every flush, including
// one racing a late Track.
func NewTracker(cfg config.TokenTrackerConfig, store Store) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		store:  store,
		queue:  make(chan models.UsageRecord, cfg.MaxBufferSize),
		stopCh: make(chan struct{}),
	}
	if cfg.Enabled {
		t.wg.Add(1)
		go t.run()
	}
	return t
}

// Track enqueues one usage record, computing its cost from the static
// pricing table. Non-blocking; a full buffer drops the record.
func (t *Tracker) Track(rec models.UsageRecord) {
	if !t.cfg.Enabled {
		return
	}

	pricing := PricingFor(rec.ModelAlias)
	rec.InputCost = cost(rec.InputTokens, pricing.InputPerMillion)
	rec.OutputCost = cost(rec.OutputTokens, pricing.OutputPerMillion)
	rec.TotalCost = rec.InputCost + rec.OutputCost
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	select {
	case t.queue <- rec:
	default:
		n := t.dropped.Add(1)
		slog.Warn("Token tracker buffer full, dropping usage record",
			"model_alias", rec.ModelAlias,
			"dropped_total", n)
	}
}

// Stop drains the queue with one final flush and waits for the flusher to
// exit. Safe to call multiple times.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Dropped returns the number of records dropped on buffer overflow.
func (t *Tracker) Dropped() int64 { return t.dropped.Load() }

// Flushed returns the number of records successfully persisted.
func (t *Tracker) Flushed() int64 { return t.flushed.Load() }

// Buffered returns the number of records currently waiting to be flushed.
func (t *Tracker) Buffered() int { return len(t.queue) }

// run is the background flusher. A batch is flushed when it reaches
// BatchSize or when BatchInterval elapses, whichever fires first.
func (t *Tracker) run() {
	defer t.wg.Done()

	slog.Info("Token tracker flusher started",
		"batch_size", t.cfg.BatchSize,
		"batch_interval", t.cfg.BatchInterval)

	ticker := time.NewTicker(t.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]models.UsageRecord, 0, t.cfg.BatchSize)

	for {
		select {
		case rec := <-t.queue:
			batch = append(batch, rec)
			if len(batch) >= t.cfg.BatchSize {
				t.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				t.flush(batch)
				batch = batch[:0]
			}

		case <-t.stopCh:
			// Drain whatever is still queued, then flush once.
			for {
				select {
				case rec := <-t.queue:
					batch = append(batch, rec)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				t.flush(batch)
			}
			slog.Info("Token tracker flusher stopped",
				"flushed_total", t.flushed.Load(),
				"dropped_total", t.dropped.Load())
			return
		}
	}
}

// flush writes one batch. On failure the batch is dropped and counted; the
// next interval retries only new records. Usage data is best-effort by
// design.
func (t *Tracker) flush(batch []models.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := t.store.InsertUsageBatch(ctx, batch); err != nil {
		t.dropped.Add(int64(len(batch)))
		slog.Error("Failed to flush usage batch",
			"batch_size", len(batch),
			"error", err)
		return
	}

	t.flushed.Add(int64(len(batch)))
	slog.Debug("Flushed usage batch", "batch_size", len(batch))
}
