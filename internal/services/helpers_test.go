package services

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/pkg/models"
)

// Fixed item ids whose string order is stable, so tests can rely on the
// deterministic tie-breaks without sorting surprises.
var (
	itemA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	itemB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	itemC = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	itemD = uuid.MustParse("44444444-4444-4444-4444-444444444444")
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(dimensions int) *FeatureStore {
	return NewFeatureStore(nil, nil, time.Minute, dimensions, testLogger())
}

// buildSnapshot assembles a published model over raw vectors with explicit
// popularity scores, clustering them at k.
func buildSnapshot(vectors map[uuid.UUID][]float64, popularity map[uuid.UUID]float64, k int) *ModelSnapshot {
	contentVectors := make(map[uuid.UUID]*models.ContentVector, len(vectors))
	dim := 0
	for id, v := range vectors {
		contentVectors[id] = &models.ContentVector{
			ItemID:     id,
			Vector:     v,
			Version:    1,
			ComputedAt: time.Now(),
		}
		dim = len(v)
	}

	ids := make([]uuid.UUID, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	byPopularity := append([]uuid.UUID(nil), ids...)
	sortIDsBy(byPopularity, func(a, b uuid.UUID) bool {
		if popularity[a] != popularity[b] {
			return popularity[a] > popularity[b]
		}
		return a.String() < b.String()
	})
	byRecency := append([]uuid.UUID(nil), ids...)
	sortIDsBy(byRecency, func(a, b uuid.UUID) bool { return a.String() < b.String() })

	return &ModelSnapshot{
		Version:      1,
		Dimensions:   dim,
		Vectors:      contentVectors,
		Clustering:   BuildClusteringModel(contentVectors, k, 20),
		Popularity:   popularity,
		ByPopularity: byPopularity,
		ByRecency:    byRecency,
		TrainedAt:    time.Now(),
	}
}

func sortIDsBy(ids []uuid.UUID, less func(a, b uuid.UUID) bool) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// newTestEngine wires a fully in-memory serving stack around the store.
func newTestEngine(store *FeatureStore) *Engine {
	return newTestEngineWithBoost(store, 0)
}

func newTestEngineWithBoost(store *FeatureStore, defaultBoost float64) *Engine {
	logger := testLogger()
	cfg := config.RecommendationConfig{
		Candidates: config.CandidateConfig{LimitMultiplier: 3, MaxCandidates: 500},
		Diversity:  config.DiversityConfig{DefaultBoost: defaultBoost},
	}
	return NewEngine(
		NewValidationGuard(),
		store,
		NewCandidateGenerator(cfg.Candidates.MaxCandidates),
		NewHybridScorer(config.DefaultAlgorithmWeights(), 7*24*time.Hour),
		NewDiversityReranker(),
		NewProfileUpdater(store, config.LearningConfig{}, logger),
		NewCollaborativeSignal(nil, nil, time.Minute, logger),
		NewInteractionLog(nil, logger),
		NewABTestManager(logger),
		NewRecommendationCache(nil, time.Minute, logger),
		nil,
		cfg,
		logger,
	)
}
