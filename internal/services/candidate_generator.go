package services

import (
	"github.com/google/uuid"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// CandidateGenerator produces the item pool a request scores over: nearest
// cluster first, popularity/recency fallbacks when the cluster runs thin.
// Pure computation over one snapshot; deterministic for identical inputs.
type CandidateGenerator struct {
	maxCandidates int
}

func NewCandidateGenerator(maxCandidates int) *CandidateGenerator {
	if maxCandidates <= 0 {
		maxCandidates = 500
	}
	return &CandidateGenerator{maxCandidates: maxCandidates}
}

// Generate collects candidate item ids for a profile against one model
// snapshot. When the profile is cold (zero vector) the current item's
// cluster anchors the lookup instead. An empty result is a
// recommendation-kind error, never an empty success.
func (g *CandidateGenerator) Generate(
	snapshot *ModelSnapshot,
	profile *models.UserProfile,
	currentItem *uuid.UUID,
	excludeSet map[uuid.UUID]bool,
	limitHint int,
) ([]uuid.UUID, error) {
	if limitHint <= 0 {
		limitHint = 10
	}

	eligible := func(id uuid.UUID) bool {
		if excludeSet[id] {
			return false
		}
		if currentItem != nil && id == *currentItem {
			return false
		}
		return true
	}

	seen := make(map[uuid.UUID]bool)
	candidates := make([]uuid.UUID, 0, limitHint)
	add := func(id uuid.UUID) bool {
		if seen[id] || !eligible(id) {
			return false
		}
		seen[id] = true
		candidates = append(candidates, id)
		return len(candidates) >= g.maxCandidates
	}

	// Anchor on the profile's nearest cluster, or the current item's when
	// the profile carries no signal yet.
	anchor := profile.Vector
	if isZeroVector(anchor) && currentItem != nil {
		if v := snapshot.Vector(*currentItem); v != nil {
			anchor = v.Vector
		}
	}

	if clusterID := snapshot.Clustering.Assign(anchor); clusterID >= 0 {
		if cluster, ok := snapshot.Clustering.Cluster(clusterID); ok {
			for _, id := range cluster.Members {
				if add(id) {
					return candidates, nil
				}
			}
		}
	}

	// Widen from the global indexes when the cluster is too thin.
	if len(candidates) < limitHint {
		for _, id := range snapshot.ByPopularity {
			if add(id) {
				break
			}
			if len(candidates) >= limitHint {
				break
			}
		}
	}
	if len(candidates) < limitHint {
		for _, id := range snapshot.ByRecency {
			if add(id) {
				break
			}
			if len(candidates) >= limitHint {
				break
			}
		}
	}

	if len(candidates) == 0 {
		return nil, models.NewRecommendationError("no_candidates",
			"no candidates available for session %s", profile.SessionID).
			WithContext("session_id", profile.SessionID).
			WithContext("model_version", snapshot.Version)
	}
	return candidates, nil
}

func isZeroVector(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
