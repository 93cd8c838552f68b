package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// ModelSnapshot is one immutable published model version: content vectors,
// the clustering model, and the popularity/recency fallback indexes. Serving
// requests hold a reference to exactly one snapshot, so a mid-request
// publication never mixes dimensionalities.
type ModelSnapshot struct {
	Version      int64
	Dimensions   int
	Vectors      map[uuid.UUID]*models.ContentVector
	Clustering   *ClusteringModel
	Popularity   map[uuid.UUID]float64
	ByPopularity []uuid.UUID
	ByRecency    []uuid.UUID
	TrainedAt    time.Time
}

// Vector returns the content vector for an item, or nil when absent.
func (s *ModelSnapshot) Vector(itemID uuid.UUID) *models.ContentVector {
	if s == nil {
		return nil
	}
	return s.Vectors[itemID]
}

// FeatureStore owns the published model snapshot and the per-session
// profiles. The snapshot swaps atomically on training completion; profiles
// are last-write-wins per session with optional postgres persistence and a
// hot-redis cache in front.
type FeatureStore struct {
	snapshot atomic.Pointer[ModelSnapshot]

	guard *ValidationGuard

	mu       sync.RWMutex
	profiles map[string]*models.UserProfile
	items    map[uuid.UUID]*models.ContentItem
	stale    map[uuid.UUID]bool

	db         *pgxpool.Pool
	cache      *redis.Client
	profileTTL time.Duration
	logger     *logrus.Logger
}

func NewFeatureStore(db *pgxpool.Pool, cache *redis.Client, profileTTL time.Duration, dimensions int, logger *logrus.Logger) *FeatureStore {
	fs := &FeatureStore{
		guard:      NewValidationGuard(),
		profiles:   make(map[string]*models.UserProfile),
		items:      make(map[uuid.UUID]*models.ContentItem),
		stale:      make(map[uuid.UUID]bool),
		db:         db,
		cache:      cache,
		profileTTL: profileTTL,
		logger:     logger,
	}

	// Version 0 bootstrap snapshot: nothing trained yet, but the serving
	// path still needs a consistent dimensionality to create profiles at.
	fs.snapshot.Store(&ModelSnapshot{
		Version:    0,
		Dimensions: dimensions,
		Vectors:    make(map[uuid.UUID]*models.ContentVector),
	})
	return fs
}

// Snapshot returns the currently published model version.
func (fs *FeatureStore) Snapshot() *ModelSnapshot {
	return fs.snapshot.Load()
}

// Publish atomically swaps in a fully built snapshot. In-flight requests
// keep the reference they already hold.
func (fs *FeatureStore) Publish(snapshot *ModelSnapshot) {
	fs.snapshot.Store(snapshot)

	fs.mu.Lock()
	for id := range snapshot.Vectors {
		delete(fs.stale, id)
	}
	fs.mu.Unlock()

	fs.logger.WithFields(logrus.Fields{
		"model_version": snapshot.Version,
		"vectors":       len(snapshot.Vectors),
		"dimensions":    snapshot.Dimensions,
	}).Info("Model snapshot published")
}

// GetContentVector reads from the published snapshot.
func (fs *FeatureStore) GetContentVector(itemID uuid.UUID) (*models.ContentVector, bool) {
	v := fs.Snapshot().Vector(itemID)
	return v, v != nil
}

// PutContentVector refreshes a single item's vector via copy-on-write: the
// successor snapshot shares everything else with the current one. Used by
// incremental refreshes outside full training runs.
func (fs *FeatureStore) PutContentVector(vector *models.ContentVector) error {
	current := fs.Snapshot()
	if err := fs.guard.ValidateVector(vector.Vector, current.Dimensions); err != nil {
		return err
	}

	next := &ModelSnapshot{
		Version:      current.Version,
		Dimensions:   current.Dimensions,
		Vectors:      make(map[uuid.UUID]*models.ContentVector, len(current.Vectors)+1),
		Clustering:   current.Clustering,
		Popularity:   current.Popularity,
		ByPopularity: current.ByPopularity,
		ByRecency:    current.ByRecency,
		TrainedAt:    current.TrainedAt,
	}
	for id, v := range current.Vectors {
		next.Vectors[id] = v
	}
	next.Vectors[vector.ItemID] = vector
	fs.Publish(next)
	return nil
}

// GetOrCreateProfile returns the session's profile, creating a neutral
// zero-vector profile at the current snapshot dimensionality when absent.
// The returned profile is a copy; writes go through PutProfile.
func (fs *FeatureStore) GetOrCreateProfile(ctx context.Context, sessionID string) (*models.UserProfile, error) {
	fs.mu.RLock()
	if p, ok := fs.profiles[sessionID]; ok {
		fs.mu.RUnlock()
		return p.Clone(), nil
	}
	fs.mu.RUnlock()

	if p := fs.loadCachedProfile(ctx, sessionID); p != nil {
		fs.mu.Lock()
		fs.profiles[sessionID] = p
		fs.mu.Unlock()
		return p.Clone(), nil
	}

	snapshot := fs.Snapshot()
	now := time.Now()
	profile := &models.UserProfile{
		SessionID:     sessionID,
		Vector:        make([]float64, snapshot.Dimensions),
		ExplicitPrefs: make(map[string]float64),
		ModelVersion:  snapshot.Version,
		LastUpdated:   now,
		CreatedAt:     now,
	}

	fs.mu.Lock()
	// Another goroutine may have created it between the RUnlock and here.
	if existing, ok := fs.profiles[sessionID]; ok {
		fs.mu.Unlock()
		return existing.Clone(), nil
	}
	fs.profiles[sessionID] = profile
	fs.mu.Unlock()

	return profile.Clone(), nil
}

// PutProfile stores a profile last-write-wins, persists it when postgres is
// configured, and refreshes the hot cache.
func (fs *FeatureStore) PutProfile(ctx context.Context, profile *models.UserProfile) error {
	if err := fs.guard.ValidateVector(profile.Vector, fs.Snapshot().Dimensions); err != nil {
		return err
	}
	stored := profile.Clone()

	fs.mu.Lock()
	fs.profiles[profile.SessionID] = stored
	fs.mu.Unlock()

	if fs.db != nil {
		if err := fs.persistProfile(ctx, stored); err != nil {
			return models.NewProfileUpdateError("profile_persist_failed",
				"failed to persist profile for session %s", profile.SessionID).WithCause(err)
		}
	}

	fs.cacheProfile(ctx, stored)
	return nil
}

// UpsertItem registers or refreshes a corpus entry and marks it stale for
// the next incremental training pass.
func (fs *FeatureStore) UpsertItem(item *models.ContentItem) {
	fs.mu.Lock()
	fs.items[item.ID] = item
	fs.stale[item.ID] = true
	fs.mu.Unlock()
}

// MarkStale flags an item for re-vectorization without touching its
// metadata. No-op for unknown items.
func (fs *FeatureStore) MarkStale(itemID uuid.UUID) {
	fs.mu.Lock()
	if _, ok := fs.items[itemID]; ok {
		fs.stale[itemID] = true
	}
	fs.mu.Unlock()
}

// Items returns the active corpus ordered by item id for deterministic
// training input.
func (fs *FeatureStore) Items() []*models.ContentItem {
	fs.mu.RLock()
	items := make([]*models.ContentItem, 0, len(fs.items))
	for _, item := range fs.items {
		if item.Active {
			items = append(items, item)
		}
	}
	fs.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].ID.String() < items[j].ID.String()
	})
	return items
}

// Item returns one corpus entry.
func (fs *FeatureStore) Item(itemID uuid.UUID) (*models.ContentItem, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	item, ok := fs.items[itemID]
	return item, ok
}

// StaleItems returns the ids flagged since the last successful training run.
func (fs *FeatureStore) StaleItems() []uuid.UUID {
	fs.mu.RLock()
	ids := make([]uuid.UUID, 0, len(fs.stale))
	for id := range fs.stale {
		ids = append(ids, id)
	}
	fs.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (fs *FeatureStore) loadCachedProfile(ctx context.Context, sessionID string) *models.UserProfile {
	if fs.cache == nil {
		return nil
	}

	data, err := fs.cache.Get(ctx, profileCacheKey(sessionID)).Result()
	if err != nil {
		return nil
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		fs.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Failed to decode cached profile")
		return nil
	}

	// Stale-dimension profiles from an older model version are discarded
	// rather than served.
	if len(profile.Vector) != fs.Snapshot().Dimensions {
		return nil
	}
	return &profile
}

func (fs *FeatureStore) cacheProfile(ctx context.Context, profile *models.UserProfile) {
	if fs.cache == nil {
		return
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return
	}

	if err := fs.cache.Set(ctx, profileCacheKey(profile.SessionID), data, fs.profileTTL).Err(); err != nil {
		fs.logger.WithError(err).WithField("session_id", profile.SessionID).
			Warn("Failed to cache profile")
	}
}

func (fs *FeatureStore) persistProfile(ctx context.Context, profile *models.UserProfile) error {
	prefs, err := json.Marshal(profile.ExplicitPrefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	vector, err := json.Marshal(profile.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	query := `
		INSERT INTO user_profiles (session_id, preference_vector, explicit_preferences,
		                           interaction_count, model_version, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			preference_vector = EXCLUDED.preference_vector,
			explicit_preferences = EXCLUDED.explicit_preferences,
			interaction_count = EXCLUDED.interaction_count,
			model_version = EXCLUDED.model_version,
			last_updated = EXCLUDED.last_updated
	`

	_, err = fs.db.Exec(ctx, query,
		profile.SessionID, vector, prefs,
		profile.InteractionCount, profile.ModelVersion,
		profile.LastUpdated, profile.CreatedAt)
	return err
}

func profileCacheKey(sessionID string) string {
	return "profile:" + sessionID
}
