package services

import (
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/lodestone-io/lodestone/internal/ml"
	"github.com/lodestone-io/lodestone/pkg/models"
)

// clusteringSeed fixes the k-means initialization so repeated training runs
// on an unchanged corpus produce identical partitions.
const clusteringSeed = 42

// ClusteringModel is an immutable partition of content vectors built by a
// training run. Serving only reads it; hot-swap happens at the snapshot
// level.
type ClusteringModel struct {
	clusters []models.Cluster
}

// HeuristicK returns round(sqrt(corpusSize)), at least 1, used when the
// operator does not supply a cluster count.
func HeuristicK(corpusSize int) int {
	if corpusSize <= 1 {
		return 1
	}
	k := int(math.Round(math.Sqrt(float64(corpusSize))))
	if k < 1 {
		k = 1
	}
	if k > corpusSize {
		k = corpusSize
	}
	return k
}

// BuildClusteringModel runs k-means with cosine distance over the given
// vectors. Item order is normalized first so map iteration order cannot
// leak into the result.
func BuildClusteringModel(vectors map[uuid.UUID]*models.ContentVector, k, maxIterations int) *ClusteringModel {
	ids := make([]uuid.UUID, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	if len(ids) == 0 {
		return &ClusteringModel{}
	}
	if k < 1 {
		k = HeuristicK(len(ids))
	}
	if k > len(ids) {
		k = len(ids)
	}

	dim := len(vectors[ids[0]].Vector)
	rng := rand.New(rand.NewSource(clusteringSeed))

	// Initialize centroids from k distinct items.
	perm := rng.Perm(len(ids))[:k]
	sort.Ints(perm)
	centroids := make([][]float64, k)
	for i, idx := range perm {
		centroids[i] = append([]float64(nil), vectors[ids[idx]].Vector...)
	}

	assignments := make([]int, len(ids))
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, id := range ids {
			c := nearestCentroid(vectors[id].Vector, centroids)
			if c != assignments[i] {
				assignments[i] = c
				changed = true
			}
		}

		// Recompute centroids as member means, renormalized so cosine
		// distance stays meaningful.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, id := range ids {
			floats.Add(sums[assignments[i]], vectors[id].Vector)
			counts[assignments[i]]++
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue // empty cluster keeps its previous centroid
			}
			floats.Scale(1/float64(counts[i]), sums[i])
			ml.L2Normalize(sums[i])
			centroids[i] = sums[i]
		}

		if !changed && iter > 0 {
			break
		}
	}

	clusters := make([]models.Cluster, k)
	for i := range clusters {
		clusters[i] = models.Cluster{ID: i, Centroid: centroids[i]}
	}
	for i, id := range ids {
		c := &clusters[assignments[i]]
		c.Members = append(c.Members, id)
	}
	return &ClusteringModel{clusters: clusters}
}

// Assign returns the nearest cluster id by cosine distance, ties broken by
// lowest cluster id. Returns -1 when the model is empty.
func (m *ClusteringModel) Assign(vector []float64) int {
	if m == nil || len(m.clusters) == 0 {
		return -1
	}
	centroids := make([][]float64, len(m.clusters))
	for i := range m.clusters {
		centroids[i] = m.clusters[i].Centroid
	}
	return nearestCentroid(vector, centroids)
}

// Clusters returns the partition ordered by cluster id.
func (m *ClusteringModel) Clusters() []models.Cluster {
	if m == nil {
		return nil
	}
	return m.clusters
}

// Cluster returns one cluster by id.
func (m *ClusteringModel) Cluster(id int) (*models.Cluster, bool) {
	if m == nil || id < 0 || id >= len(m.clusters) {
		return nil, false
	}
	return &m.clusters[id], true
}

// K returns the cluster count.
func (m *ClusteringModel) K() int {
	if m == nil {
		return 0
	}
	return len(m.clusters)
}

// Cohesion returns the mean cosine similarity of one cluster's members to
// its centroid, given the vector table the model was built from.
func (m *ClusteringModel) Cohesion(clusterID int, vectors map[uuid.UUID]*models.ContentVector) float64 {
	cluster, ok := m.Cluster(clusterID)
	if !ok || cluster.Size() == 0 {
		return 0
	}

	var sum float64
	var n int
	for _, id := range cluster.Members {
		if v, ok := vectors[id]; ok {
			sum += ml.CosineSimilarity(v.Vector, cluster.Centroid)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AverageCohesion is the member-weighted mean cohesion across all clusters,
// the quality metric recorded on training jobs.
func (m *ClusteringModel) AverageCohesion(vectors map[uuid.UUID]*models.ContentVector) float64 {
	if m == nil || len(m.clusters) == 0 {
		return 0
	}

	var sum float64
	var n int
	for _, cluster := range m.clusters {
		for _, id := range cluster.Members {
			if v, ok := vectors[id]; ok {
				sum += ml.CosineSimilarity(v.Vector, cluster.Centroid)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// nearestCentroid picks the centroid with the smallest cosine distance,
// first index winning ties.
func nearestCentroid(vector []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		d := ml.CosineDistance(vector, c)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
