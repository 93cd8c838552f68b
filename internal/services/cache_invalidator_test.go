package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-io/lodestone/pkg/models"
)

func cachedRequest(sessionID string) *models.RecommendationRequest {
	return &models.RecommendationRequest{
		SessionID:      sessionID,
		Algorithm:      models.AlgorithmHybrid,
		Limit:          10,
		DiversityBoost: 0.3,
	}
}

func TestRecommendationCache_RoundTrip(t *testing.T) {
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	ctx := context.Background()

	req := cachedRequest("session-1")
	key := cache.Key(req)
	result := &models.RecommendationResult{
		SessionID: "session-1",
		Algorithm: models.AlgorithmHybrid,
		Items:     []models.ScoredItem{{ItemID: itemA, Score: 0.9}},
	}

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)

	cache.Set(ctx, key, result)
	cached, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, result.Items, cached.Items)
}

func TestRecommendationCache_KeyDistinguishesRequestShape(t *testing.T) {
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	base := cachedRequest("session-1")

	variations := []*models.RecommendationRequest{
		cachedRequest("session-2"),
		{SessionID: "session-1", Algorithm: models.AlgorithmContent, Limit: 10, DiversityBoost: 0.3},
		{SessionID: "session-1", Algorithm: models.AlgorithmHybrid, Limit: 20, DiversityBoost: 0.3},
		{SessionID: "session-1", Algorithm: models.AlgorithmHybrid, Limit: 10, DiversityBoost: 0.5},
		{SessionID: "session-1", Algorithm: models.AlgorithmHybrid, Limit: 10, DiversityBoost: 0.3, CurrentItem: &itemA},
		{SessionID: "session-1", Algorithm: models.AlgorithmHybrid, Limit: 10, DiversityBoost: 0.3, ExcludeItems: []uuid.UUID{itemA}},
		{SessionID: "session-1", Algorithm: models.AlgorithmHybrid, Limit: 10, DiversityBoost: 0.3, Explain: true},
	}
	for _, req := range variations {
		assert.NotEqual(t, cache.Key(base), cache.Key(req))
	}
}

func TestRecommendationCache_KeyExclusionsOrderInsensitive(t *testing.T) {
	cache := NewRecommendationCache(nil, time.Minute, testLogger())

	forward := cachedRequest("session-1")
	forward.ExcludeItems = []uuid.UUID{itemA, itemB}
	backward := cachedRequest("session-1")
	backward.ExcludeItems = []uuid.UUID{itemB, itemA}
	assert.Equal(t, cache.Key(forward), cache.Key(backward))

	wider := cachedRequest("session-1")
	wider.ExcludeItems = []uuid.UUID{itemA, itemB, itemC}
	assert.NotEqual(t, cache.Key(forward), cache.Key(wider))
}

func TestRecommendationCache_SetSweepsExpiredEntries(t *testing.T) {
	cache := NewRecommendationCache(nil, time.Nanosecond, testLogger())
	ctx := context.Background()

	cache.Set(ctx, "rec:session-1:a", &models.RecommendationResult{SessionID: "session-1"})
	time.Sleep(time.Millisecond)
	cache.Set(ctx, "rec:session-1:b", &models.RecommendationResult{SessionID: "session-1"})

	cache.mu.RLock()
	defer cache.mu.RUnlock()
	assert.Len(t, cache.local, 1, "expired entries are dropped on the next write")
	assert.Contains(t, cache.local, "rec:session-1:b")
}

func TestRecommendationCache_InvalidateSessionScoped(t *testing.T) {
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	ctx := context.Background()

	keyOne := cache.Key(cachedRequest("session-1"))
	keyTwo := cache.Key(cachedRequest("session-2"))
	cache.Set(ctx, keyOne, &models.RecommendationResult{SessionID: "session-1"})
	cache.Set(ctx, keyTwo, &models.RecommendationResult{SessionID: "session-2"})

	cache.InvalidateSession(ctx, "session-1")

	_, ok := cache.Get(ctx, keyOne)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, keyTwo)
	assert.True(t, ok, "other sessions keep their entries")
}

func TestRecommendationCache_InvalidateAll(t *testing.T) {
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	ctx := context.Background()

	keyOne := cache.Key(cachedRequest("session-1"))
	keyTwo := cache.Key(cachedRequest("session-2"))
	cache.Set(ctx, keyOne, &models.RecommendationResult{})
	cache.Set(ctx, keyTwo, &models.RecommendationResult{})

	cache.InvalidateAll(ctx)

	_, ok := cache.Get(ctx, keyOne)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, keyTwo)
	assert.False(t, ok)
}

func TestCacheInvalidator_ContentEventWithItemUpserts(t *testing.T) {
	store := newTestStore(4)
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	invalidator := NewCacheInvalidator(store, cache, testLogger())
	ctx := context.Background()

	invalidator.HandleContentEvent(ctx, &models.ContentEvent{
		ItemID: itemA,
		Item: &models.ContentItem{
			ID: itemA, Title: "fresh item", Active: true, PublishedAt: time.Now(),
		},
	})

	item, ok := store.Item(itemA)
	require.True(t, ok)
	assert.Equal(t, "fresh item", item.Title)
	assert.Contains(t, store.StaleItems(), itemA)
}

func TestCacheInvalidator_StaleMarkOnlyEvent(t *testing.T) {
	store := newTestStore(4)
	store.UpsertItem(&models.ContentItem{ID: itemB, Title: "existing", Active: true})
	store.Publish(&ModelSnapshot{Version: 1, Dimensions: 4,
		Vectors: map[uuid.UUID]*models.ContentVector{
			itemB: {ItemID: itemB, Vector: []float64{1, 0, 0, 0}, Version: 1},
		}})
	require.Empty(t, store.StaleItems())

	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	invalidator := NewCacheInvalidator(store, cache, testLogger())

	invalidator.HandleContentEvent(context.Background(), &models.ContentEvent{ItemID: itemB})
	assert.Equal(t, []uuid.UUID{itemB}, store.StaleItems())
}

func TestCacheInvalidator_EvictsCachedResults(t *testing.T) {
	store := newTestStore(4)
	store.UpsertItem(&models.ContentItem{ID: itemA, Title: "a", Active: true})
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	invalidator := NewCacheInvalidator(store, cache, testLogger())
	ctx := context.Background()

	key := cache.Key(cachedRequest("session-1"))
	cache.Set(ctx, key, &models.RecommendationResult{})

	invalidator.Invalidate(ctx, itemA)

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestCacheInvalidator_Idempotent(t *testing.T) {
	store := newTestStore(4)
	store.UpsertItem(&models.ContentItem{ID: itemA, Title: "a", Active: true})
	cache := NewRecommendationCache(nil, time.Minute, testLogger())
	invalidator := NewCacheInvalidator(store, cache, testLogger())
	ctx := context.Background()

	// Invalidating an already-clear entry must be a harmless no-op,
	// including for items nobody has cached.
	invalidator.Invalidate(ctx, itemA)
	invalidator.Invalidate(ctx, itemA)
	invalidator.Invalidate(ctx, uuid.New())

	assert.Contains(t, store.StaleItems(), itemA)
}
