package diagrams

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

const (
	syncTick         = 30 * time.Second
	syncCycleTimeout = 60 * time.Second
)

// syncWorker reconciles the pending-create and dirty sets to the durable
// store. One worker per process; set membership in Redis is the source of
// truth for what still needs syncing, so a crashed worker loses nothing.
type syncWorker struct {
	cfg   config.DiagramCacheConfig
	rdb   *redis.Client
	store Store

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	lastSync time.Time
	cycles   int64
	synced   int64
}

func newSyncWorker(cfg config.DiagramCacheConfig, rdb *redis.Client, store Store) *syncWorker {
	return &syncWorker{
		cfg:    cfg,
		rdb:    rdb,
		store:  store,
		stopCh: make(chan struct{}),
	}
}

func (w *syncWorker) start() {
	w.mu.Lock()
	w.lastSync = time.Now()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()
	slog.Info("Diagram sync worker started",
		"sync_interval", w.cfg.SyncInterval,
		"batch_size", w.cfg.SyncBatchSize)
}

// stop halts the loop and runs one final cycle so a clean shutdown leaves
// no reconcilable entries behind.
func (w *syncWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.runCycle()
	slog.Info("Diagram sync worker stopped",
		"cycles", w.cycleCount(), "synced_total", w.syncedCount())
}

func (w *syncWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(syncTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			due := time.Since(w.lastSync) >= w.cfg.SyncInterval
			w.mu.Unlock()
			if due {
				w.runCycle()
			}
		case <-w.stopCh:
			return
		}
	}
}

// runCycle drains one batch from each set. Entries that fail to persist are
// put back for the next cycle; entries whose cached record has expired are
// dropped with a warning since there is nothing left to reconcile from.
func (w *syncWorker) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), syncCycleTimeout)
	defer cancel()

	created := w.drainSet(ctx, keyPendingCreate, w.store.Insert)
	updated := w.drainSet(ctx, keyDirty, w.store.Upsert)

	w.mu.Lock()
	w.lastSync = time.Now()
	w.cycles++
	w.synced += int64(created + updated)
	w.mu.Unlock()

	if created > 0 || updated > 0 {
		slog.Info("Diagram sync cycle complete",
			"created", created, "updated", updated)
	}
}

// drainSet pops up to one batch of members from a sync set and persists each
// via the given write.
func (w *syncWorker) drainSet(ctx context.Context, key string, write func(context.Context, *models.Diagram) error) int {
	members, err := w.rdb.SPopN(ctx, key, int64(w.cfg.SyncBatchSize)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Failed to drain sync set", "key", key, "error", err)
		}
		return 0
	}

	synced := 0
	for _, member := range members {
		userID, id, ok := splitSyncMember(member)
		if !ok {
			slog.Warn("Dropping malformed sync entry", "member", member)
			continue
		}

		data, err := w.rdb.Get(ctx, diagramKey(userID, id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				slog.Warn("Cached diagram expired before sync, dropping entry",
					"diagram_id", id)
			} else {
				w.requeue(ctx, key, member)
			}
			continue
		}

		var d models.Diagram
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Warn("Dropping unreadable cached diagram from sync",
				"diagram_id", id, "error", err)
			continue
		}

		if err := write(ctx, &d); err != nil {
			slog.Warn("Failed to persist diagram, requeueing",
				"diagram_id", id, "error", err)
			w.requeue(ctx, key, member)
			continue
		}
		synced++
	}
	return synced
}

func (w *syncWorker) requeue(ctx context.Context, key, member string) {
	if err := w.rdb.SAdd(ctx, key, member).Err(); err != nil {
		slog.Error("Failed to requeue sync entry, entry lost until next write",
			"key", key, "member", member, "error", err)
	}
}

func (w *syncWorker) stats(ctx context.Context) map[string]any {
	w.mu.Lock()
	lastSync, cycles, synced := w.lastSync, w.cycles, w.synced
	w.mu.Unlock()

	stats := map[string]any{
		"sync_cycles": cycles,
		"synced":      synced,
	}
	if !lastSync.IsZero() {
		stats["last_sync"] = lastSync.UTC().Format(time.RFC3339)
	}
	if pending, err := w.rdb.SCard(ctx, keyPendingCreate).Result(); err == nil {
		stats["pending_create"] = pending
	}
	if dirty, err := w.rdb.SCard(ctx, keyDirty).Result(); err == nil {
		stats["dirty"] = dirty
	}
	return stats
}

func (w *syncWorker) cycleCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cycles
}

func (w *syncWorker) syncedCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.synced
}
