package models

import (
	"time"

	"github.com/google/uuid"
)

// Algorithm names accepted by the recommend operation.
const (
	AlgorithmContent       = "content"
	AlgorithmCollaborative = "collaborative"
	AlgorithmPopularity    = "popularity"
	AlgorithmHybrid        = "hybrid"
)

// ValidAlgorithm reports whether name is a recognized scoring algorithm.
func ValidAlgorithm(name string) bool {
	switch name {
	case AlgorithmContent, AlgorithmCollaborative, AlgorithmPopularity, AlgorithmHybrid:
		return true
	}
	return false
}

// RecommendationRequest describes one scoring transaction.
type RecommendationRequest struct {
	SessionID      string     `json:"session_id" validate:"required"`
	CurrentItem    *uuid.UUID `json:"current_item,omitempty"`
	Limit          int        `json:"limit" validate:"min=1,max=100"`
	Algorithm      string     `json:"algorithm"`
	DiversityBoost float64    `json:"diversity_boost" validate:"min=0,max=1"`
	// DiversityBoostSet distinguishes an explicit boost of 0 from an
	// absent one, which receives the configured default.
	DiversityBoostSet bool        `json:"-"`
	Explain           bool        `json:"explain"`
	ExcludeItems      []uuid.UUID `json:"exclude_items,omitempty"`
}

// ScoredItem is one ranked entry of a recommendation result.
type ScoredItem struct {
	ItemID      uuid.UUID `json:"id"`
	Score       float64   `json:"score"`
	Explanation *string   `json:"explanation,omitempty"`
}

// RecommendationResult is the recommend response. Ephemeral; not persisted
// beyond logs.
type RecommendationResult struct {
	SessionID    string       `json:"session_id"`
	Items        []ScoredItem `json:"items"`
	Algorithm    string       `json:"algorithm"`
	ModelVersion int64        `json:"model_version"`
	GeneratedAt  time.Time    `json:"generated_at"`
	CacheHit     bool         `json:"cache_hit"`
}
