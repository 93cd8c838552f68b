package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rerankerCandidates() []RankedCandidate {
	return []RankedCandidate{
		{ItemID: itemA, Score: 0.9, Popularity: 0.5, Vector: []float64{1, 0, 0}},
		{ItemID: itemB, Score: 0.85, Popularity: 0.4, Vector: []float64{0.99, 0.01, 0}},
		{ItemID: itemC, Score: 0.8, Popularity: 0.3, Vector: []float64{0, 1, 0}},
		{ItemID: itemD, Score: 0.75, Popularity: 0.2, Vector: []float64{0, 0, 1}},
	}
}

func TestDiversityReranker_ZeroBoostIsScoreOrder(t *testing.T) {
	reranker := NewDiversityReranker()
	// Shuffled input; output must still be the exact score-descending order.
	input := []RankedCandidate{
		rerankerCandidates()[2],
		rerankerCandidates()[0],
		rerankerCandidates()[3],
		rerankerCandidates()[1],
	}

	out := reranker.Rerank(input, 0, 4)
	require.Len(t, out, 4)
	assert.Equal(t, itemA, out[0].ItemID)
	assert.Equal(t, itemB, out[1].ItemID)
	assert.Equal(t, itemC, out[2].ItemID)
	assert.Equal(t, itemD, out[3].ItemID)
}

func TestDiversityReranker_LimitTruncates(t *testing.T) {
	reranker := NewDiversityReranker()

	out := reranker.Rerank(rerankerCandidates(), 0, 2)
	require.Len(t, out, 2)
	assert.Equal(t, itemA, out[0].ItemID)
	assert.Equal(t, itemB, out[1].ItemID)
}

func TestDiversityReranker_BoostPrefersSpread(t *testing.T) {
	reranker := NewDiversityReranker()

	// A and B are near-duplicates; with a strong boost the second pick
	// should skip B for something orthogonal to A.
	out := reranker.Rerank(rerankerCandidates(), 0.8, 3)
	require.Len(t, out, 3)
	assert.Equal(t, itemA, out[0].ItemID, "highest score still leads")
	assert.NotEqual(t, itemB, out[1].ItemID, "near-duplicate should be deferred")
}

func TestDiversityReranker_InputNotMutated(t *testing.T) {
	reranker := NewDiversityReranker()
	input := []RankedCandidate{
		rerankerCandidates()[3],
		rerankerCandidates()[1],
		rerankerCandidates()[0],
		rerankerCandidates()[2],
	}
	originalOrder := []RankedCandidate{input[0], input[1], input[2], input[3]}

	reranker.Rerank(input, 0.5, 4)
	assert.Equal(t, originalOrder, input)
}

func TestDiversityReranker_EmptyAndZeroLimit(t *testing.T) {
	reranker := NewDiversityReranker()

	assert.Nil(t, reranker.Rerank(nil, 0.5, 10))
	assert.Nil(t, reranker.Rerank(rerankerCandidates(), 0.5, 0))
}

func TestSortByScore_TieBreaks(t *testing.T) {
	candidates := []RankedCandidate{
		{ItemID: itemC, Score: 0.5, Popularity: 0.2},
		{ItemID: itemB, Score: 0.5, Popularity: 0.9},
		{ItemID: itemD, Score: 0.5, Popularity: 0.2},
		{ItemID: itemA, Score: 0.7, Popularity: 0.1},
	}

	SortByScore(candidates)
	assert.Equal(t, itemA, candidates[0].ItemID, "score wins first")
	assert.Equal(t, itemB, candidates[1].ItemID, "popularity breaks score ties")
	assert.Equal(t, itemC, candidates[2].ItemID, "lower item id breaks full ties")
	assert.Equal(t, itemD, candidates[3].ItemID)
}

func TestToScoredItems(t *testing.T) {
	items := ToScoredItems(rerankerCandidates()[:2])
	require.Len(t, items, 2)
	assert.Equal(t, itemA, items[0].ItemID)
	assert.Equal(t, 0.9, items[0].Score)
}
