package models

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile is the numeric interest representation for one session (or
// authenticated user — the engine keys both by session id). Created lazily
// on first interaction or request, never deleted; it decays toward neutral
// when idle.
type UserProfile struct {
	SessionID        string             `json:"session_id" db:"session_id"`
	Vector           []float64          `json:"-" db:"preference_vector"`
	ExplicitPrefs    map[string]float64 `json:"explicit_preferences" db:"explicit_preferences"`
	InteractionCount int                `json:"interaction_count" db:"interaction_count"`
	ModelVersion     int64              `json:"model_version" db:"model_version"`
	LastUpdated      time.Time          `json:"last_updated" db:"last_updated"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy so callers can mutate safely.
func (p *UserProfile) Clone() *UserProfile {
	cp := *p
	cp.Vector = append([]float64(nil), p.Vector...)
	cp.ExplicitPrefs = make(map[string]float64, len(p.ExplicitPrefs))
	for k, v := range p.ExplicitPrefs {
		cp.ExplicitPrefs[k] = v
	}
	return &cp
}

// Interaction event types accepted by the public surface.
const (
	InteractionView    = "view"
	InteractionClick   = "click"
	InteractionLike    = "like"
	InteractionDislike = "dislike"
	InteractionShare   = "share"
	InteractionDwell   = "dwell"
)

// DefaultInteractionWeight maps an event type to its signal weight when the
// caller does not supply one. Dislike is the only negatively weighted type.
func DefaultInteractionWeight(interactionType string) float64 {
	switch interactionType {
	case InteractionLike:
		return 1.0
	case InteractionShare:
		return 0.9
	case InteractionClick:
		return 0.6
	case InteractionDwell:
		return 0.5
	case InteractionView:
		return 0.3
	case InteractionDislike:
		return -1.0
	default:
		return 0.0
	}
}

// ValidInteractionType reports whether the public surface accepts the type.
func ValidInteractionType(interactionType string) bool {
	switch interactionType {
	case InteractionView, InteractionClick, InteractionLike,
		InteractionDislike, InteractionShare, InteractionDwell:
		return true
	}
	return false
}

// InteractionEvent is one logged user action. Immutable once stored; feeds
// both the profile updater and the training corpus.
type InteractionEvent struct {
	ID        uuid.UUID              `json:"id" db:"id"`
	SessionID string                 `json:"session_id" db:"session_id" validate:"required"`
	ItemID    uuid.UUID              `json:"item_id" db:"item_id" validate:"required"`
	Type      string                 `json:"type" db:"interaction_type" validate:"required"`
	Weight    float64                `json:"weight" db:"weight"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
}

// InteractionRequest is the public log_interaction payload.
type InteractionRequest struct {
	SessionID string                 `json:"session_id" binding:"required"`
	ItemID    uuid.UUID              `json:"item_id" binding:"required"`
	Type      string                 `json:"type" binding:"required"`
	Weight    *float64               `json:"weight,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PreferencesRequest is the update_profile payload: an explicit category
// preference overlay in [-1, 1] per category.
type PreferencesRequest struct {
	Preferences map[string]float64 `json:"preferences" binding:"required"`
}

// FeedbackRequest is the submit_feedback payload. Feedback folds into the
// interaction log under the session resolved from metadata or "anonymous".
type FeedbackRequest struct {
	ItemID       uuid.UUID              `json:"item_id" binding:"required"`
	FeedbackType string                 `json:"feedback_type" binding:"required,oneof=positive negative not_interested inappropriate"`
	SessionID    string                 `json:"session_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ProfileInsights is the get_insights response: a human-consumable summary
// of what the engine has learned about a session.
type ProfileInsights struct {
	SessionID        string             `json:"session_id"`
	InteractionCount int                `json:"interaction_count"`
	TopCategories    []CategoryAffinity `json:"top_categories"`
	ExplicitPrefs    map[string]float64 `json:"explicit_preferences,omitempty"`
	ProfileStrength  float64            `json:"profile_strength"`
	ModelVersion     int64              `json:"model_version"`
	LastUpdated      time.Time          `json:"last_updated"`
}

// CategoryAffinity pairs a category with its learned affinity score.
type CategoryAffinity struct {
	Category string  `json:"category"`
	Affinity float64 `json:"affinity"`
}
