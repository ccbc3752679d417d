// Package diagrams implements the Redis-first diagram cache with a
// relational store of record. Mutations land in Redis and are queued on the
// pending-create and dirty sets; a background worker reconciles them to
// PostgreSQL. When Redis is unreachable the cache degrades to direct store
// access, trading speed for availability.
package diagrams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/thinkmaps/thinkmaps/pkg/config"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultLanguage = "en"
)

// Cache is the diagram façade. A nil Redis client puts it permanently in
// store-only mode; a reachable one makes Redis the read/write front with
// background reconciliation.
type Cache struct {
	cfg   config.DiagramCacheConfig
	rdb   *redis.Client
	store Store

	worker    *syncWorker
	startOnce sync.Once
}

// NewCache creates the diagram cache. rdb may be nil (fallback mode). The
// sync worker starts lazily with the first Redis-backed write.
func NewCache(cfg config.DiagramCacheConfig, rdb *redis.Client, store Store) *Cache {
	c := &Cache{cfg: cfg, rdb: rdb, store: store}
	if rdb != nil {
		c.worker = newSyncWorker(cfg, rdb, store)
	}
	return c
}

// Stop shuts down the sync worker, running one final reconciliation cycle.
func (c *Cache) Stop() {
	if c.worker != nil {
		c.worker.stop()
	}
}

// Stats reports reconciliation state for the health endpoint.
func (c *Cache) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"redis_available": c.rdb != nil,
	}
	if c.worker != nil {
		for k, v := range c.worker.stats(ctx) {
			stats[k] = v
		}
	}
	return stats
}

// Save creates a new diagram with a server-assigned id. The quota and spec
// size are validated before any state changes.
func (c *Cache) Save(ctx context.Context, req *models.CreateDiagramRequest) (*models.Diagram, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if req.DiagramType == "" {
		return nil, fmt.Errorf("%w: diagram type is required", ErrInvalidInput)
	}
	if err := c.validateSpecSize(req.Spec); err != nil {
		return nil, err
	}

	count, err := c.countUserDiagrams(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if count >= c.cfg.MaxPerUser {
		return nil, fmt.Errorf("%w: user %s holds %d of %d diagrams",
			ErrQuotaExceeded, req.UserID, count, c.cfg.MaxPerUser)
	}

	now := time.Now().UTC()
	d := &models.Diagram{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Title,
		DiagramType: req.DiagramType,
		Spec:        req.Spec,
		Language:    req.Language,
		Thumbnail:   req.Thumbnail,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.Language == "" {
		d.Language = defaultLanguage
	}

	if c.rdb == nil {
		if err := c.store.Insert(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal diagram: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, diagramKey(d.UserID, d.ID), data, c.cfg.CacheTTL)
	pipe.ZAdd(ctx, metaKey(d.UserID), redis.Z{
		Score:  float64(d.UpdatedAt.UnixMilli()),
		Member: d.ID,
	})
	pipe.Expire(ctx, metaKey(d.UserID), c.cfg.CacheTTL)
	pipe.Del(ctx, listKey(d.UserID))
	pipe.SAdd(ctx, keyPendingCreate, syncMember(d.UserID, d.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		// Redis went away mid-flight; take the durable path instead.
		slog.Warn("Redis write failed, saving diagram directly to store",
			"diagram_id", d.ID, "error", err)
		if err := c.store.Insert(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	}

	c.ensureWorker()
	return d, nil
}

// Get returns one diagram, soft-deleted included. A cache hit refreshes the
// TTL; a miss falls through to the store and back-fills the cache.
func (c *Cache) Get(ctx context.Context, userID, id string) (*models.Diagram, error) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, diagramKey(userID, id)).Bytes()
		switch {
		case err == nil:
			var d models.Diagram
			if jsonErr := json.Unmarshal(data, &d); jsonErr == nil {
				c.rdb.Expire(ctx, diagramKey(userID, id), c.cfg.CacheTTL)
				return &d, nil
			}
			// Corrupt cache entry; fall through to the store.
			slog.Warn("Dropping unreadable cached diagram", "diagram_id", id)
			c.rdb.Del(ctx, diagramKey(userID, id))
		case !errors.Is(err, redis.Nil):
			slog.Warn("Redis read failed, falling back to store",
				"diagram_id", id, "error", err)
		}
	}

	d, err := c.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	c.backfill(ctx, d)
	return d, nil
}

// Update applies a partial patch. CreatedAt is immutable; fields absent from
// the patch keep their stored value.
func (c *Cache) Update(ctx context.Context, userID, id string, patch *models.UpdateDiagramRequest) (*models.Diagram, error) {
	d, err := c.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if d.IsDeleted {
		return nil, ErrNotFound
	}

	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Spec != nil {
		if err := c.validateSpecSize(patch.Spec); err != nil {
			return nil, err
		}
		d.Spec = patch.Spec
	}
	if patch.Thumbnail != nil {
		d.Thumbnail = *patch.Thumbnail
	}
	if patch.IsPinned != nil {
		d.IsPinned = *patch.IsPinned
	}
	d.UpdatedAt = time.Now().UTC()

	if err := c.writeBack(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete soft-deletes a diagram: it disappears from listings but Get still
// returns it with IsDeleted set. Deleting twice is a no-op.
func (c *Cache) Delete(ctx context.Context, userID, id string) error {
	d, err := c.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if d.IsDeleted {
		return nil
	}

	d.IsDeleted = true
	d.UpdatedAt = time.Now().UTC()

	if c.rdb == nil {
		return c.store.Upsert(ctx, d)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal diagram: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, diagramKey(userID, id), data, c.cfg.CacheTTL)
	pipe.ZRem(ctx, metaKey(userID), id)
	pipe.Del(ctx, listKey(userID))
	pipe.SRem(ctx, keyPendingCreate, syncMember(userID, id))
	pipe.SAdd(ctx, keyDirty, syncMember(userID, id))
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Redis delete failed, writing directly to store",
			"diagram_id", id, "error", err)
		return c.store.Upsert(ctx, d)
	}

	c.ensureWorker()
	return nil
}

// SetPinned toggles the pinned flag, which reorders the user's listing.
func (c *Cache) SetPinned(ctx context.Context, userID, id string, pinned bool) (*models.Diagram, error) {
	return c.Update(ctx, userID, id, &models.UpdateDiagramRequest{IsPinned: &pinned})
}

// Duplicate copies an existing diagram into a new one with a fresh id. The
// copy counts against the owner's quota like any other create.
func (c *Cache) Duplicate(ctx context.Context, userID, id string) (*models.Diagram, error) {
	src, err := c.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if src.IsDeleted {
		return nil, ErrNotFound
	}

	return c.Save(ctx, &models.CreateDiagramRequest{
		UserID:      userID,
		Title:       src.Title,
		DiagramType: src.DiagramType,
		Spec:        src.Spec,
		Language:    src.Language,
		Thumbnail:   src.Thumbnail,
	})
}

// List returns one page of the user's non-deleted diagrams ordered pinned
// first, then most recently updated. A page past the end returns an empty
// page with the correct total.
func (c *Cache) List(ctx context.Context, userID string, page, pageSize int) (*models.DiagramPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	full, err := c.fullUserList(ctx, userID)
	if err != nil {
		return nil, err
	}

	pageDiagrams := []*models.Diagram{}
	start := (page - 1) * pageSize
	if start < len(full) {
		end := min(start+pageSize, len(full))
		pageDiagrams = full[start:end]
	}

	return &models.DiagramPage{
		Diagrams: pageDiagrams,
		Total:    len(full),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// PreloadUserDiagrams primes the user's list cache in the background, a
// fire-and-forget hook for login. No-op when the list is already cached or
// Redis is down.
func (c *Cache) PreloadUserDiagrams(userID string) {
	if c.rdb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		exists, err := c.rdb.Exists(ctx, listKey(userID)).Result()
		if err != nil || exists > 0 {
			return
		}
		if _, err := c.fullUserList(ctx, userID); err != nil {
			slog.Debug("Diagram preload failed", "user_id", userID, "error", err)
		}
	}()
}

// fullUserList returns the user's complete sorted listing, serving it from
// the list cache when present and rebuilding (store + pendingCreate overlay)
// when not.
func (c *Cache) fullUserList(ctx context.Context, userID string) ([]*models.Diagram, error) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, listKey(userID)).Bytes()
		if err == nil {
			var cached []*models.Diagram
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				return cached, nil
			}
			c.rdb.Del(ctx, listKey(userID))
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis list read failed, falling back to store",
				"user_id", userID, "error", err)
		}
	}

	full, err := c.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		full = c.overlayPendingCreates(ctx, userID, full)
	}

	sortListing(full)

	if c.rdb != nil {
		if data, err := json.Marshal(full); err == nil {
			c.rdb.Set(ctx, listKey(userID), data, c.cfg.CacheTTL)
		}
	}
	return full, nil
}

// overlayPendingCreates merges cached diagrams that have not reached the
// durable store yet into a store-built listing.
func (c *Cache) overlayPendingCreates(ctx context.Context, userID string, full []*models.Diagram) []*models.Diagram {
	members, err := c.rdb.SMembers(ctx, keyPendingCreate).Result()
	if err != nil {
		return full
	}

	seen := make(map[string]bool, len(full))
	for _, d := range full {
		seen[d.ID] = true
	}

	prefix := userID + ":"
	for _, member := range members {
		if !strings.HasPrefix(member, prefix) {
			continue
		}
		_, id, ok := splitSyncMember(member)
		if !ok || seen[id] {
			continue
		}
		data, err := c.rdb.Get(ctx, diagramKey(userID, id)).Bytes()
		if err != nil {
			continue
		}
		var d models.Diagram
		if err := json.Unmarshal(data, &d); err != nil || d.IsDeleted {
			continue
		}
		full = append(full, &d)
		seen[id] = true
	}
	return full
}

// writeBack persists an updated diagram: cache + index + dirty mark, or the
// store directly when Redis is unavailable.
func (c *Cache) writeBack(ctx context.Context, d *models.Diagram) error {
	if c.rdb == nil {
		return c.store.Upsert(ctx, d)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal diagram: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, diagramKey(d.UserID, d.ID), data, c.cfg.CacheTTL)
	pipe.ZAdd(ctx, metaKey(d.UserID), redis.Z{
		Score:  float64(d.UpdatedAt.UnixMilli()),
		Member: d.ID,
	})
	pipe.Del(ctx, listKey(d.UserID))
	pipe.SAdd(ctx, keyDirty, syncMember(d.UserID, d.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Redis write failed, updating store directly",
			"diagram_id", d.ID, "error", err)
		return c.store.Upsert(ctx, d)
	}

	c.ensureWorker()
	return nil
}

// backfill repopulates the cache after a store read. Best effort.
func (c *Cache) backfill(ctx context.Context, d *models.Diagram) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, diagramKey(d.UserID, d.ID), data, c.cfg.CacheTTL)
	if !d.IsDeleted {
		pipe.ZAdd(ctx, metaKey(d.UserID), redis.Z{
			Score:  float64(d.UpdatedAt.UnixMilli()),
			Member: d.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("Diagram backfill failed", "diagram_id", d.ID, "error", err)
	}
}

// countUserDiagrams serves the quota check, preferring the Redis index. A
// zero count from Redis may mean an evicted index, so it is confirmed
// against the store.
func (c *Cache) countUserDiagrams(ctx context.Context, userID string) (int, error) {
	if c.rdb != nil {
		count, err := c.rdb.ZCard(ctx, metaKey(userID)).Result()
		if err == nil && count > 0 {
			return int(count), nil
		}
	}
	return c.store.CountByUser(ctx, userID)
}

func (c *Cache) validateSpecSize(spec json.RawMessage) error {
	if limit := c.cfg.MaxSpecSizeKB * 1024; len(spec) > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d KB limit",
			ErrSpecTooLarge, len(spec), c.cfg.MaxSpecSizeKB)
	}
	return nil
}

func (c *Cache) ensureWorker() {
	if c.worker == nil {
		return
	}
	c.startOnce.Do(c.worker.start)
}

// sortListing orders diagrams pinned first, then most recently updated.
func sortListing(list []*models.Diagram) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].IsPinned != list[j].IsPinned {
			return list[i].IsPinned
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}
