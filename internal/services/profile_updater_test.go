package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/pkg/models"
)

func updaterFixture(t *testing.T) (*ProfileUpdater, *FeatureStore) {
	t.Helper()
	store := newTestStore(2)
	store.Publish(&ModelSnapshot{
		Version:    1,
		Dimensions: 2,
		Vectors: map[uuid.UUID]*models.ContentVector{
			itemA: {ItemID: itemA, Vector: []float64{2, 0}, Version: 1},
			itemB: {ItemID: itemB, Vector: []float64{0, 1}, Version: 1},
		},
	})
	updater := NewProfileUpdater(store, config.LearningConfig{}, testLogger())
	return updater, store
}

func likeEvent(sessionID string, itemID uuid.UUID, weight float64) *models.InteractionEvent {
	eventType := models.InteractionLike
	if weight < 0 {
		eventType = models.InteractionDislike
	}
	return &models.InteractionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		ItemID:    itemID,
		Type:      eventType,
		Weight:    weight,
		Timestamp: time.Now(),
	}
}

func TestProfileUpdater_MovesTowardItem(t *testing.T) {
	updater, _ := updaterFixture(t)
	ctx := context.Background()

	profile, err := updater.Apply(ctx, likeEvent("session-1", itemA, 1.0))
	require.NoError(t, err)

	// alpha = 0.7: a zero profile moves 70% of the way toward [2, 0].
	assert.InDelta(t, 1.4, profile.Vector[0], 1e-9)
	assert.InDelta(t, 0.0, profile.Vector[1], 1e-9)
	assert.Equal(t, 1, profile.InteractionCount)
	assert.Equal(t, int64(1), profile.ModelVersion)
}

func TestProfileUpdater_DislikePullsBackWithoutOvershoot(t *testing.T) {
	updater, _ := updaterFixture(t)
	ctx := context.Background()

	liked, err := updater.Apply(ctx, likeEvent("session-1", itemA, 1.0))
	require.NoError(t, err)
	require.InDelta(t, 1.4, liked.Vector[0], 1e-9)

	disliked, err := updater.Apply(ctx, likeEvent("session-1", itemA, -1.0))
	require.NoError(t, err)

	// Damped negative step: alpha 0.21 toward -[2, 0], landing at 0.686.
	assert.InDelta(t, 0.686, disliked.Vector[0], 1e-6)
	assert.Greater(t, disliked.Vector[0], 0.0, "one dislike must not flip the preference")
	assert.Less(t, disliked.Vector[0], liked.Vector[0])
}

func TestProfileUpdater_WeakSignalStillMoves(t *testing.T) {
	updater, _ := updaterFixture(t)
	ctx := context.Background()

	// weight 0.01 would give alpha 0.007; the floor lifts it to min alpha.
	profile, err := updater.Apply(ctx, likeEvent("session-1", itemA, 0.01))
	require.NoError(t, err)
	assert.InDelta(t, 0.05*2, profile.Vector[0], 1e-9)
}

func TestProfileUpdater_UnknownItem(t *testing.T) {
	updater, _ := updaterFixture(t)

	_, err := updater.Apply(context.Background(), likeEvent("session-1", uuid.New(), 1.0))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindProfileUpdate))
}

func TestProfileUpdater_ConcurrentEventsAllApply(t *testing.T) {
	updater, store := updaterFixture(t)
	ctx := context.Background()

	const events = 50
	var wg sync.WaitGroup
	for i := 0; i < events; i++ {
		wg.Add(1)
		item := itemA
		if i%2 == 1 {
			item = itemB
		}
		go func(item uuid.UUID) {
			defer wg.Done()
			_, err := updater.Apply(ctx, likeEvent("session-1", item, 0.5))
			assert.NoError(t, err)
		}(item)
	}
	wg.Wait()

	profile, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, events, profile.InteractionCount, "no event may be lost to a concurrent write")

	updater.mu.Lock()
	assert.Empty(t, updater.locks, "session locks drain once the last writer releases")
	updater.mu.Unlock()
}

func TestProfileUpdater_PreferencesSerializeWithEvents(t *testing.T) {
	updater, store := updaterFixture(t)
	ctx := context.Background()

	const rounds = 30
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := updater.Apply(ctx, likeEvent("session-1", itemA, 0.5))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := updater.ApplyPreferences(ctx, "session-1", map[string]float64{"science": 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	profile, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, rounds, profile.InteractionCount, "no interaction may be lost to a preference write")
	assert.Equal(t, 1.0, profile.ExplicitPrefs["science"], "no preference write may be lost to an interaction")
}

func TestProfileUpdater_ApplyPreferencesClamps(t *testing.T) {
	updater, store := updaterFixture(t)
	ctx := context.Background()

	_, err := updater.ApplyPreferences(ctx, "session-1", map[string]float64{
		"science": 4.2,
		"sports":  -3,
	})
	require.NoError(t, err)

	profile, err := store.GetOrCreateProfile(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, profile.ExplicitPrefs["science"])
	assert.Equal(t, -1.0, profile.ExplicitPrefs["sports"])
}

func TestProfileUpdater_SessionsIsolated(t *testing.T) {
	updater, store := updaterFixture(t)
	ctx := context.Background()

	_, err := updater.Apply(ctx, likeEvent("session-1", itemA, 1.0))
	require.NoError(t, err)

	other, err := store.GetOrCreateProfile(ctx, "session-2")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, other.Vector)
	assert.Equal(t, 0, other.InteractionCount)
}
