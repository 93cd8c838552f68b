package services

import (
	"math"
	"time"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/internal/ml"
	"github.com/lodestone-io/lodestone/pkg/models"
)

// ScoringContext carries the non-vector signals for one candidate.
type ScoringContext struct {
	Age           time.Duration
	Popularity    float64 // normalized to [0, 1]
	Collaborative float64 // normalized to [0, 1]
}

// HybridScorer blends content similarity, collaborative signal, recency
// decay, and popularity under per-algorithm weight tables. Pure and
// stateless; safe for concurrent use.
type HybridScorer struct {
	weights         map[string]config.ScoreWeights
	recencyHalfLife time.Duration
}

func NewHybridScorer(weights map[string]config.ScoreWeights, recencyHalfLife time.Duration) *HybridScorer {
	if len(weights) == 0 {
		weights = config.DefaultAlgorithmWeights()
	}
	if recencyHalfLife <= 0 {
		recencyHalfLife = 7 * 24 * time.Hour
	}
	return &HybridScorer{weights: weights, recencyHalfLife: recencyHalfLife}
}

// Score computes the relevance of one candidate for one profile under the
// named algorithm. The result is clamped to [0, 1]; an unknown algorithm is
// a validation error.
func (s *HybridScorer) Score(algorithm string, candidate, profile []float64, sctx ScoringContext) (float64, error) {
	w, ok := s.weights[algorithm]
	if !ok {
		return 0, models.NewValidationError("unknown_algorithm",
			"unknown scoring algorithm %q", algorithm).
			WithContext("algorithm", algorithm)
	}

	score := w.Content*contentSimilarity(candidate, profile) +
		w.Collaborative*clamp01(sctx.Collaborative) +
		w.Recency*s.recencyDecay(sctx.Age) +
		w.Popularity*clamp01(sctx.Popularity)

	return clamp01(score), nil
}

// recencyDecay is exp(-age/halfLife · ln2): 1 at age 0, halved every
// half-life, monotone non-increasing. Negative ages (clock skew) score 1.
func (s *HybridScorer) recencyDecay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Hours() / s.recencyHalfLife.Hours())
}

// contentSimilarity is cosine similarity floored at zero: aligned vectors
// score near 1, orthogonal ones near 0, and opposed vectors contribute
// nothing rather than a negative term.
func contentSimilarity(a, b []float64) float64 {
	return clamp01(ml.CosineSimilarity(a, b))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
