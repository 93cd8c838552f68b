package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-io/lodestone/pkg/models"
)

func TestFeatureStore_BootstrapSnapshot(t *testing.T) {
	store := newTestStore(8)

	snapshot := store.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(0), snapshot.Version)
	assert.Equal(t, 8, snapshot.Dimensions)
	assert.Empty(t, snapshot.Vectors)
}

func TestFeatureStore_PublishSwapsAtomically(t *testing.T) {
	store := newTestStore(2)
	old := store.Snapshot()

	next := &ModelSnapshot{
		Version:    1,
		Dimensions: 2,
		Vectors: map[uuid.UUID]*models.ContentVector{
			itemA: {ItemID: itemA, Vector: []float64{1, 0}, Version: 1},
		},
	}
	store.Publish(next)

	assert.Same(t, next, store.Snapshot())
	// The reference a request already holds is untouched.
	assert.Equal(t, int64(0), old.Version)
	assert.Empty(t, old.Vectors)
}

func TestFeatureStore_PublishClearsStaleFlags(t *testing.T) {
	store := newTestStore(2)
	store.UpsertItem(&models.ContentItem{ID: itemA, Title: "a", Active: true})
	store.UpsertItem(&models.ContentItem{ID: itemB, Title: "b", Active: true})
	require.Len(t, store.StaleItems(), 2)

	store.Publish(&ModelSnapshot{
		Version:    1,
		Dimensions: 2,
		Vectors: map[uuid.UUID]*models.ContentVector{
			itemA: {ItemID: itemA, Vector: []float64{1, 0}, Version: 1},
		},
	})

	// Only items covered by the new snapshot lose the flag.
	assert.Equal(t, []uuid.UUID{itemB}, store.StaleItems())
}

func TestFeatureStore_LazyProfileCreation(t *testing.T) {
	store := newTestStore(4)
	ctx := context.Background()

	profile, err := store.GetOrCreateProfile(ctx, "fresh-session")
	require.NoError(t, err)
	assert.Equal(t, "fresh-session", profile.SessionID)
	assert.Equal(t, []float64{0, 0, 0, 0}, profile.Vector)
	assert.Equal(t, 0, profile.InteractionCount)
	assert.NotNil(t, profile.ExplicitPrefs)

	again, err := store.GetOrCreateProfile(ctx, "fresh-session")
	require.NoError(t, err)
	assert.Equal(t, profile.CreatedAt, again.CreatedAt, "second lookup returns the same profile")
}

func TestFeatureStore_ProfileCopiesAreIsolated(t *testing.T) {
	store := newTestStore(2)
	ctx := context.Background()

	first, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)
	first.Vector[0] = 99 // mutating the copy must not leak into the store

	second, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, second.Vector[0])
}

func TestFeatureStore_PutProfileLastWriteWins(t *testing.T) {
	store := newTestStore(2)
	ctx := context.Background()

	profile, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)

	profile.Vector = []float64{0.5, 0.5}
	profile.InteractionCount = 3
	require.NoError(t, store.PutProfile(ctx, profile))

	profile.Vector = []float64{1, 0}
	profile.InteractionCount = 4
	require.NoError(t, store.PutProfile(ctx, profile))

	stored, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, stored.Vector)
	assert.Equal(t, 4, stored.InteractionCount)
}

func TestFeatureStore_PutContentVectorCopyOnWrite(t *testing.T) {
	store := newTestStore(2)
	store.Publish(&ModelSnapshot{
		Version:    1,
		Dimensions: 2,
		Vectors: map[uuid.UUID]*models.ContentVector{
			itemA: {ItemID: itemA, Vector: []float64{1, 0}, Version: 1},
		},
	})
	before := store.Snapshot()

	err := store.PutContentVector(&models.ContentVector{
		ItemID: itemB, Vector: []float64{0, 1}, Version: 1,
	})
	require.NoError(t, err)

	after := store.Snapshot()
	assert.NotSame(t, before, after)
	assert.Len(t, before.Vectors, 1, "prior snapshot is untouched")
	assert.Len(t, after.Vectors, 2)
	assert.Same(t, before.Vectors[itemA], after.Vectors[itemA], "unchanged vectors are shared, not copied")
}

func TestFeatureStore_PutContentVectorDimensionMismatch(t *testing.T) {
	store := newTestStore(2)

	err := store.PutContentVector(&models.ContentVector{
		ItemID: itemA, Vector: []float64{1, 0, 0}, Version: 1,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindValidation))
}

func TestFeatureStore_ItemsSortedAndActiveOnly(t *testing.T) {
	store := newTestStore(2)
	store.UpsertItem(&models.ContentItem{ID: itemC, Title: "c", Active: true})
	store.UpsertItem(&models.ContentItem{ID: itemA, Title: "a", Active: true})
	store.UpsertItem(&models.ContentItem{ID: itemB, Title: "b", Active: false})

	items := store.Items()
	require.Len(t, items, 2)
	assert.Equal(t, itemA, items[0].ID)
	assert.Equal(t, itemC, items[1].ID)
}

func TestFeatureStore_MarkStaleUnknownItemIsNoOp(t *testing.T) {
	store := newTestStore(2)
	store.MarkStale(uuid.New())
	assert.Empty(t, store.StaleItems())
}

func TestModelSnapshot_VectorNilSafe(t *testing.T) {
	var snapshot *ModelSnapshot
	assert.Nil(t, snapshot.Vector(itemA))

	populated := &ModelSnapshot{Vectors: map[uuid.UUID]*models.ContentVector{}}
	assert.Nil(t, populated.Vector(itemA))
}
