package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-io/lodestone/pkg/models"
)

func clusterVectors() map[uuid.UUID]*models.ContentVector {
	raw := map[uuid.UUID][]float64{
		itemA: {1, 0, 0},
		itemB: {0.95, 0.05, 0},
		itemC: {0, 1, 0},
		itemD: {0, 0.9, 0.1},
	}
	vectors := make(map[uuid.UUID]*models.ContentVector, len(raw))
	for id, v := range raw {
		vectors[id] = &models.ContentVector{ItemID: id, Vector: v, Version: 1}
	}
	return vectors
}

func TestBuildClusteringModel_Deterministic(t *testing.T) {
	vectors := clusterVectors()

	first := BuildClusteringModel(vectors, 2, 20)
	second := BuildClusteringModel(vectors, 2, 20)

	require.Equal(t, first.K(), second.K())
	for i := 0; i < first.K(); i++ {
		a, _ := first.Cluster(i)
		b, _ := second.Cluster(i)
		assert.Equal(t, a.Members, b.Members, "cluster %d membership differs between runs", i)
	}
}

func TestBuildClusteringModel_SeparatesDirections(t *testing.T) {
	model := BuildClusteringModel(clusterVectors(), 2, 20)
	require.Equal(t, 2, model.K())

	// A/B point one way, C/D the other; they must not share a cluster.
	clusterOf := make(map[uuid.UUID]int)
	for _, cluster := range model.Clusters() {
		for _, id := range cluster.Members {
			clusterOf[id] = cluster.ID
		}
	}
	assert.Equal(t, clusterOf[itemA], clusterOf[itemB])
	assert.Equal(t, clusterOf[itemC], clusterOf[itemD])
	assert.NotEqual(t, clusterOf[itemA], clusterOf[itemC])
}

func TestBuildClusteringModel_KExceedsCorpus(t *testing.T) {
	vectors := clusterVectors()
	model := BuildClusteringModel(vectors, 10, 20)
	assert.Equal(t, len(vectors), model.K())
}

func TestBuildClusteringModel_Empty(t *testing.T) {
	model := BuildClusteringModel(map[uuid.UUID]*models.ContentVector{}, 3, 20)
	assert.Equal(t, 0, model.K())
	assert.Equal(t, -1, model.Assign([]float64{1, 0, 0}))
}

func TestClusteringModel_AssignTieBreaksLowestID(t *testing.T) {
	// Two identical centroids: the query is equidistant from both, so the
	// lower cluster id must win.
	model := &ClusteringModel{clusters: []models.Cluster{
		{ID: 0, Centroid: []float64{1, 0}},
		{ID: 1, Centroid: []float64{1, 0}},
	}}
	assert.Equal(t, 0, model.Assign([]float64{1, 0}))
}

func TestHeuristicK(t *testing.T) {
	tests := []struct {
		corpusSize int
		want       int
	}{
		{0, 1},
		{1, 1},
		{4, 2},
		{100, 10},
		{150, 12},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HeuristicK(tt.corpusSize), "corpus size %d", tt.corpusSize)
	}
}

func TestClusteringModel_Cohesion(t *testing.T) {
	vectors := clusterVectors()
	model := BuildClusteringModel(vectors, 2, 20)

	avg := model.AverageCohesion(vectors)
	assert.Greater(t, avg, 0.9, "tight synthetic clusters should be highly cohesive")
	assert.LessOrEqual(t, avg, 1.0)

	for i := 0; i < model.K(); i++ {
		c := model.Cohesion(i, vectors)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}
