package services

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/internal/database"
	"github.com/lodestone-io/lodestone/internal/ml"
)

// Services wires the engine's components together for the application.
type Services struct {
	Guard            *ValidationGuard
	FeatureStore     *FeatureStore
	Candidates       *CandidateGenerator
	Scorer           *HybridScorer
	Reranker         *DiversityReranker
	ProfileUpdater   *ProfileUpdater
	Collaborative    *CollaborativeSignal
	Interactions     *InteractionLog
	Trainer          *TrainingOrchestrator
	ABTests          *ABTestManager
	Cache            *RecommendationCache
	CacheInvalidator *CacheInvalidator
	Engine           *Engine
	Metrics          *MetricsCollector
	Auth             *AuthService
}

// New builds the full service graph. Database handles may be partially nil
// (degraded mode); every service tolerates a missing backing store.
func New(cfg *config.Config, db *database.Database, notifier TrainingNotifier, logger *logrus.Logger) *Services {
	hot, warm := redisClients(db)

	featurizer := ml.NewFeaturizer(cfg.Training.VectorDimensions)
	guard := NewValidationGuard()
	metrics := NewMetricsCollector()

	store := NewFeatureStore(pgPool(db), hot, cfg.Recommendation.Caching.ProfilesTTL,
		featurizer.Dimensions(), logger)
	var interactionDB DatabaseExecutor
	if pool := pgPool(db); pool != nil {
		interactionDB = pool
	}
	interactions := NewInteractionLog(interactionDB, logger)
	collab := NewCollaborativeSignal(graphDriver(db), warm,
		cfg.Recommendation.Caching.CollabSignalTTL, logger)

	candidates := NewCandidateGenerator(cfg.Recommendation.Candidates.MaxCandidates)
	scorer := NewHybridScorer(cfg.Recommendation.Algorithms, cfg.Training.Learning.RecencyHalfLife)
	reranker := NewDiversityReranker()
	updater := NewProfileUpdater(store, cfg.Training.Learning, logger)
	abTests := NewABTestManager(logger)
	cache := NewRecommendationCache(warm, cfg.Recommendation.Caching.RecommendationsTTL, logger)
	invalidator := NewCacheInvalidator(store, cache, logger)

	trainer := NewTrainingOrchestrator(store, interactions, featurizer, cfg.Training,
		notifier, pgPool(db), warm, logger)

	engine := NewEngine(guard, store, candidates, scorer, reranker, updater, collab,
		interactions, abTests, cache, metrics, cfg.Recommendation, logger)

	return &Services{
		Guard:            guard,
		FeatureStore:     store,
		Candidates:       candidates,
		Scorer:           scorer,
		Reranker:         reranker,
		ProfileUpdater:   updater,
		Collaborative:    collab,
		Interactions:     interactions,
		Trainer:          trainer,
		ABTests:          abTests,
		Cache:            cache,
		CacheInvalidator: invalidator,
		Engine:           engine,
		Metrics:          metrics,
		Auth:             NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger),
	}
}

// Stop shuts down background work.
func (s *Services) Stop() {
	if s.Trainer != nil {
		s.Trainer.Stop()
	}
}

func pgPool(db *database.Database) *pgxpool.Pool {
	if db == nil {
		return nil
	}
	return db.PG
}

func graphDriver(db *database.Database) neo4j.DriverWithContext {
	if db == nil {
		return nil
	}
	return db.Neo4j
}

func redisClients(db *database.Database) (*redis.Client, *redis.Client) {
	if db == nil || db.Redis == nil {
		return nil, nil
	}
	return db.Redis.Hot, db.Redis.Warm
}
