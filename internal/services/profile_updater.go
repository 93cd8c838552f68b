package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/pkg/models"
)

// ProfileUpdater applies interaction events to session profiles as a
// bounded exponential moving average. Updates for one session serialize on
// a per-session mutex so concurrent events apply in order without lost
// writes; different sessions proceed in parallel.
type ProfileUpdater struct {
	store  *FeatureStore
	cfg    config.LearningConfig
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*profileLock
}

// profileLock serializes writers for one session. Reference-counted so the
// entry leaves the map once the last writer releases it.
type profileLock struct {
	mu   sync.Mutex
	refs int
}

func NewProfileUpdater(store *FeatureStore, cfg config.LearningConfig, logger *logrus.Logger) *ProfileUpdater {
	if cfg.Rate <= 0 {
		cfg.Rate = 0.7
	}
	if cfg.MinAlpha <= 0 {
		cfg.MinAlpha = 0.05
	}
	if cfg.MaxAlpha <= 0 || cfg.MaxAlpha >= 1 {
		cfg.MaxAlpha = 0.9
	}
	if cfg.NegativeScale <= 0 {
		cfg.NegativeScale = 0.3
	}
	if cfg.ProfileHalfLife <= 0 {
		cfg.ProfileHalfLife = 30 * 24 * time.Hour
	}
	return &ProfileUpdater{
		store:  store,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*profileLock),
	}
}

// Apply moves the session's profile toward (positive weight) or away from
// (negative weight) the interacted item's vector and persists the result.
// Persistence failures surface as profile-update errors with the cause
// attached; the caller decides whether to retry.
func (u *ProfileUpdater) Apply(ctx context.Context, event *models.InteractionEvent) (*models.UserProfile, error) {
	snapshot := u.store.Snapshot()
	itemVector := snapshot.Vector(event.ItemID)
	if itemVector == nil {
		return nil, models.NewProfileUpdateError("unknown_item",
			"no content vector for item %s", event.ItemID).
			WithContext("item_id", event.ItemID.String()).
			WithContext("model_version", snapshot.Version)
	}

	lock := u.lockSession(event.SessionID)
	defer u.unlockSession(event.SessionID, lock)

	profile, err := u.store.GetOrCreateProfile(ctx, event.SessionID)
	if err != nil {
		return nil, models.NewProfileUpdateError("profile_load_failed",
			"failed to load profile for session %s", event.SessionID).WithCause(err)
	}
	if len(profile.Vector) != len(itemVector.Vector) {
		return nil, models.NewProfileUpdateError("dimension_mismatch",
			"profile has %d dimensions, item vector has %d",
			len(profile.Vector), len(itemVector.Vector))
	}

	u.decayIdle(profile)

	alpha, direction := u.step(event.Weight)
	for i := range profile.Vector {
		target := direction * itemVector.Vector[i]
		profile.Vector[i] = (1-alpha)*profile.Vector[i] + alpha*target
	}

	profile.InteractionCount++
	profile.ModelVersion = snapshot.Version
	profile.LastUpdated = event.Timestamp
	if profile.LastUpdated.IsZero() {
		profile.LastUpdated = time.Now()
	}

	if err := u.store.PutProfile(ctx, profile); err != nil {
		return nil, err
	}

	u.logger.WithFields(logrus.Fields{
		"session_id": event.SessionID,
		"item_id":    event.ItemID,
		"type":       event.Type,
		"alpha":      alpha,
	}).Debug("Profile updated")
	return profile, nil
}

// ApplyPreferences merges an explicit preference overlay into the profile,
// clamping values to [-1, 1]. Runs under the same per-session lock as
// Apply, so a concurrent interaction event cannot overwrite the merge.
func (u *ProfileUpdater) ApplyPreferences(ctx context.Context, sessionID string, prefs map[string]float64) (*models.UserProfile, error) {
	lock := u.lockSession(sessionID)
	defer u.unlockSession(sessionID, lock)

	profile, err := u.store.GetOrCreateProfile(ctx, sessionID)
	if err != nil {
		return nil, models.NewProfileUpdateError("profile_load_failed",
			"failed to load profile for session %s", sessionID).WithCause(err)
	}

	for category, value := range prefs {
		if value < -1 {
			value = -1
		}
		if value > 1 {
			value = 1
		}
		profile.ExplicitPrefs[category] = value
	}
	profile.LastUpdated = time.Now()

	if err := u.store.PutProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// step derives the EMA step from the event weight: α = clamp(rate·|w|)
// for positive signals, damped by negativeScale for negative ones so a
// dislike pulls back toward neutral without overshooting into the
// opposite preference.
func (u *ProfileUpdater) step(weight float64) (alpha, direction float64) {
	alpha = u.cfg.Rate * math.Abs(weight)
	direction = 1
	if weight < 0 {
		alpha *= u.cfg.NegativeScale
		direction = -1
	}
	if alpha < u.cfg.MinAlpha {
		alpha = u.cfg.MinAlpha
	}
	if alpha > u.cfg.MaxAlpha {
		alpha = u.cfg.MaxAlpha
	}
	return alpha, direction
}

// decayIdle shrinks a profile toward neutral by how long it sat untouched,
// halving its magnitude every ProfileHalfLife.
func (u *ProfileUpdater) decayIdle(profile *models.UserProfile) {
	if profile.LastUpdated.IsZero() || profile.InteractionCount == 0 {
		return
	}
	idle := time.Since(profile.LastUpdated)
	if idle <= 0 {
		return
	}

	factor := math.Exp(-math.Ln2 * idle.Hours() / u.cfg.ProfileHalfLife.Hours())
	if factor >= 1 {
		return
	}
	for i := range profile.Vector {
		profile.Vector[i] *= factor
	}
}

// lockSession blocks until this goroutine is the session's only writer.
func (u *ProfileUpdater) lockSession(sessionID string) *profileLock {
	u.mu.Lock()
	lock, ok := u.locks[sessionID]
	if !ok {
		lock = &profileLock{}
		u.locks[sessionID] = lock
	}
	lock.refs++
	u.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (u *ProfileUpdater) unlockSession(sessionID string, lock *profileLock) {
	lock.mu.Unlock()

	u.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(u.locks, sessionID)
	}
	u.mu.Unlock()
}
