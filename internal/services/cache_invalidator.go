package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// RecommendationCache fronts the serving path with an in-memory result map
// and a warm-redis tier behind it. Keys combine session, algorithm, and the
// request shape, so differently parameterized requests never collide.
type RecommendationCache struct {
	warm   *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	mu    sync.RWMutex
	local map[string]*cachedResult
}

type cachedResult struct {
	result    *models.RecommendationResult
	expiresAt time.Time
}

func NewRecommendationCache(warm *redis.Client, ttl time.Duration, logger *logrus.Logger) *RecommendationCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RecommendationCache{
		warm:   warm,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]*cachedResult),
	}
}

// Key builds the cache key for one request shape. The exclusion set folds
// in as an order-insensitive digest so the same set always maps to the
// same key.
func (c *RecommendationCache) Key(req *models.RecommendationRequest) string {
	current := ""
	if req.CurrentItem != nil {
		current = req.CurrentItem.String()
	}
	exclude := ""
	if len(req.ExcludeItems) > 0 {
		ids := make([]string, len(req.ExcludeItems))
		for i, id := range req.ExcludeItems {
			ids[i] = id.String()
		}
		sort.Strings(ids)
		digest := fnv.New64a()
		for _, id := range ids {
			digest.Write([]byte(id))
		}
		exclude = strconv.FormatUint(digest.Sum64(), 16)
	}
	return fmt.Sprintf("rec:%s:%s:%d:%.2f:%s:%s:%t",
		req.SessionID, req.Algorithm, req.Limit, req.DiversityBoost,
		current, exclude, req.Explain)
}

func (c *RecommendationCache) Get(ctx context.Context, key string) (*models.RecommendationResult, bool) {
	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.result, true
	}

	if c.warm == nil {
		return nil, false
	}
	data, err := c.warm.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}

	var result models.RecommendationResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *RecommendationCache) Set(ctx context.Context, key string, result *models.RecommendationResult) {
	now := time.Now()
	c.mu.Lock()
	for k, entry := range c.local {
		if now.After(entry.expiresAt) {
			delete(c.local, k)
		}
	}
	c.local[key] = &cachedResult{result: result, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	if c.warm == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.warm.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Failed to cache recommendation result")
	}
}

// InvalidateSession drops every cached result for one session.
func (c *RecommendationCache) InvalidateSession(ctx context.Context, sessionID string) {
	prefix := "rec:" + sessionID + ":"

	c.mu.Lock()
	for key := range c.local {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.local, key)
		}
	}
	c.mu.Unlock()

	c.dropPattern(ctx, prefix+"*")
}

// InvalidateAll clears the whole result cache.
func (c *RecommendationCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.local = make(map[string]*cachedResult)
	c.mu.Unlock()

	c.dropPattern(ctx, "rec:*")
}

func (c *RecommendationCache) dropPattern(ctx context.Context, pattern string) {
	if c.warm == nil {
		return
	}
	keys, err := c.warm.Keys(ctx, pattern).Result()
	if err != nil {
		c.logger.WithError(err).Debug("Failed to list cache keys for invalidation")
		return
	}
	if len(keys) > 0 {
		if err := c.warm.Del(ctx, keys...).Err(); err != nil {
			c.logger.WithError(err).Debug("Failed to drop cache keys")
		}
	}
}

// CacheInvalidator reacts to content-mutation notifications: it upserts or
// stale-marks the item for the next incremental training pass and evicts
// cached results that may still rank stale candidates. Fire-and-forget and
// idempotent; invalidating an already-clear entry is a no-op.
type CacheInvalidator struct {
	store    *FeatureStore
	recCache *RecommendationCache
	logger   *logrus.Logger
}

func NewCacheInvalidator(store *FeatureStore, recCache *RecommendationCache, logger *logrus.Logger) *CacheInvalidator {
	return &CacheInvalidator{
		store:    store,
		recCache: recCache,
		logger:   logger,
	}
}

// HandleContentEvent applies one content-mutation notification.
func (ci *CacheInvalidator) HandleContentEvent(ctx context.Context, event *models.ContentEvent) {
	if event.Item != nil {
		ci.store.UpsertItem(event.Item)
	} else {
		ci.store.MarkStale(event.ItemID)
	}
	ci.Invalidate(ctx, event.ItemID)
}

// Invalidate evicts everything that may reference the item. Never returns
// an error; failures only log.
func (ci *CacheInvalidator) Invalidate(ctx context.Context, itemID uuid.UUID) {
	ci.store.MarkStale(itemID)
	ci.recCache.InvalidateAll(ctx)
	ci.logger.WithField("item_id", itemID).Debug("Caches invalidated for content mutation")
}
