package services

import (
	"sort"

	"github.com/google/uuid"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// RankedCandidate is one scored candidate entering the reranker, carrying
// its vector for pairwise similarity and its popularity for tie-breaking.
type RankedCandidate struct {
	ItemID     uuid.UUID
	Score      float64
	Popularity float64
	Vector     []float64
}

// DiversityReranker trades relevance for variety with greedy
// maximal-marginal-relevance selection. Pure computation, no state.
type DiversityReranker struct{}

func NewDiversityReranker() *DiversityReranker {
	return &DiversityReranker{}
}

// Rerank returns up to limit candidates. At diversityBoost 0 the output is
// exactly the score-descending order (popularity then item id breaking
// ties); at 1 selection is driven entirely by spread from what is already
// picked.
func (r *DiversityReranker) Rerank(candidates []RankedCandidate, diversityBoost float64, limit int) []RankedCandidate {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}

	ordered := make([]RankedCandidate, len(candidates))
	copy(ordered, candidates)
	SortByScore(ordered)

	if diversityBoost <= 0 {
		if limit > len(ordered) {
			limit = len(ordered)
		}
		return ordered[:limit]
	}

	selected := make([]RankedCandidate, 0, limit)
	remaining := ordered

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestValue := marginalValue(remaining[0], selected, diversityBoost)
		for i := 1; i < len(remaining); i++ {
			if v := marginalValue(remaining[i], selected, diversityBoost); v > bestValue {
				bestValue = v
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// marginalValue scores a candidate against the already-selected set:
// relevance discounted by its worst-case redundancy.
func marginalValue(candidate RankedCandidate, selected []RankedCandidate, diversityBoost float64) float64 {
	var maxSim float64
	for _, s := range selected {
		if sim := contentSimilarity(candidate.Vector, s.Vector); sim > maxSim {
			maxSim = sim
		}
	}
	return (1-diversityBoost)*candidate.Score - diversityBoost*maxSim
}

// SortByScore orders candidates score-descending, ties broken by higher
// popularity then lower item id so rankings are reproducible.
func SortByScore(candidates []RankedCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Popularity != candidates[j].Popularity {
			return candidates[i].Popularity > candidates[j].Popularity
		}
		return candidates[i].ItemID.String() < candidates[j].ItemID.String()
	})
}

// ToScoredItems converts ranked candidates to the API result entries.
func ToScoredItems(candidates []RankedCandidate) []models.ScoredItem {
	items := make([]models.ScoredItem, len(candidates))
	for i, c := range candidates {
		items[i] = models.ScoredItem{ItemID: c.ItemID, Score: c.Score}
	}
	return items
}
