package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/pkg/models"
)

// Engine is the serving-path orchestrator: it validates a request, pins one
// model snapshot, generates and scores candidates, reranks for diversity,
// and caches the result. It also owns the interaction-ingestion path, which
// is isolated from serving: internal failures there are logged and acked,
// never surfaced.
type Engine struct {
	guard        *ValidationGuard
	store        *FeatureStore
	candidates   *CandidateGenerator
	scorer       *HybridScorer
	reranker     *DiversityReranker
	updater      *ProfileUpdater
	collab       *CollaborativeSignal
	interactions *InteractionLog
	abTests      *ABTestManager
	cache        *RecommendationCache
	metrics      *MetricsCollector
	cfg          config.RecommendationConfig
	logger       *logrus.Logger
}

func NewEngine(
	guard *ValidationGuard,
	store *FeatureStore,
	candidates *CandidateGenerator,
	scorer *HybridScorer,
	reranker *DiversityReranker,
	updater *ProfileUpdater,
	collab *CollaborativeSignal,
	interactions *InteractionLog,
	abTests *ABTestManager,
	cache *RecommendationCache,
	metrics *MetricsCollector,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		guard:        guard,
		store:        store,
		candidates:   candidates,
		scorer:       scorer,
		reranker:     reranker,
		updater:      updater,
		collab:       collab,
		interactions: interactions,
		abTests:      abTests,
		cache:        cache,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
	}
}

// Recommend runs the full scoring pipeline for one request.
func (e *Engine) Recommend(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResult, error) {
	started := time.Now()
	result, err := e.recommend(ctx, req)
	if e.metrics != nil {
		cacheHit := result != nil && result.CacheHit
		e.metrics.ObserveRecommendation(req.Algorithm, time.Since(started), cacheHit, err)
	}
	return result, err
}

func (e *Engine) recommend(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResult, error) {
	e.applyDefaults(req)

	if err := e.guard.ValidateRecommendationRequest(req); err != nil {
		return nil, err
	}

	key := e.cache.Key(req)
	if cached, ok := e.cache.Get(ctx, key); ok {
		hit := *cached
		hit.CacheHit = true
		return &hit, nil
	}

	// One snapshot reference for the whole request: candidates, vectors,
	// and indexes all come from the same model version.
	snapshot := e.store.Snapshot()

	profile, err := e.store.GetOrCreateProfile(ctx, req.SessionID)
	if err != nil {
		return nil, models.NewRecommendationError("profile_unavailable",
			"failed to load profile for session %s", req.SessionID).WithCause(err)
	}
	if len(profile.Vector) != snapshot.Dimensions {
		// Profile from an older model version: restart from neutral at the
		// current dimensionality rather than mixing versions.
		profile.Vector = make([]float64, snapshot.Dimensions)
	}

	exclude := make(map[uuid.UUID]bool, len(req.ExcludeItems))
	for _, id := range req.ExcludeItems {
		exclude[id] = true
	}

	limitHint := req.Limit * e.cfg.Candidates.LimitMultiplier
	candidateIDs, err := e.candidates.Generate(snapshot, profile, req.CurrentItem, exclude, limitHint)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedCandidate, 0, len(candidateIDs))
	now := time.Now()
	for _, id := range candidateIDs {
		vector := snapshot.Vector(id)
		if vector == nil {
			continue
		}

		sctx := ScoringContext{Popularity: snapshot.Popularity[id]}
		if item, ok := e.store.Item(id); ok {
			sctx.Age = now.Sub(item.PublishedAt)
		}
		if e.collab != nil {
			sctx.Collaborative = e.collab.Signal(ctx, req.SessionID, id)
		}

		score, err := e.scorer.Score(req.Algorithm, vector.Vector, profile.Vector, sctx)
		if err != nil {
			return nil, err
		}
		score = e.applyPreferenceOverlay(score, id, profile)

		ranked = append(ranked, RankedCandidate{
			ItemID:     id,
			Score:      score,
			Popularity: sctx.Popularity,
			Vector:     vector.Vector,
		})
	}

	selected := e.reranker.Rerank(ranked, req.DiversityBoost, req.Limit)
	items := ToScoredItems(selected)
	if req.Explain {
		e.explain(items, selected, profile)
	}

	result := &models.RecommendationResult{
		SessionID:    req.SessionID,
		Items:        items,
		Algorithm:    req.Algorithm,
		ModelVersion: snapshot.Version,
		GeneratedAt:  now,
	}
	e.cache.Set(ctx, key, result)
	return result, nil
}

// LogInteraction ingests one interaction event. It always succeeds from the
// caller's perspective: profile updates, co-occurrence recording, and A/B
// outcome attribution are best-effort and isolated from the ack.
func (e *Engine) LogInteraction(ctx context.Context, req *models.InteractionRequest) {
	if !models.ValidInteractionType(req.Type) {
		e.logger.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"type":       req.Type,
		}).Warn("Dropping interaction with unknown type")
		return
	}

	weight := models.DefaultInteractionWeight(req.Type)
	if req.Weight != nil {
		weight = *req.Weight
	}

	event := &models.InteractionEvent{
		ID:        uuid.New(),
		SessionID: req.SessionID,
		ItemID:    req.ItemID,
		Type:      req.Type,
		Weight:    weight,
		Metadata:  req.Metadata,
		Timestamp: time.Now(),
	}

	if e.metrics != nil {
		e.metrics.ObserveInteraction(event.Type)
	}

	if err := e.interactions.Append(ctx, event); err != nil {
		e.logger.WithError(err).WithField("session_id", req.SessionID).
			Error("Interaction event not fully persisted")
	}

	if _, err := e.updater.Apply(ctx, event); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"item_id":    req.ItemID,
		}).Error("Profile update failed")
	} else {
		e.cache.InvalidateSession(ctx, req.SessionID)
	}

	if e.collab != nil && weight > 0 {
		e.collab.Record(ctx, req.SessionID, req.ItemID)
	}

	e.recordOutcomes(req.SessionID, weight)
}

// Insights summarizes what the engine has learned about a session.
func (e *Engine) Insights(ctx context.Context, sessionID string) (*models.ProfileInsights, error) {
	profile, err := e.store.GetOrCreateProfile(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	insights := &models.ProfileInsights{
		SessionID:        sessionID,
		InteractionCount: profile.InteractionCount,
		ExplicitPrefs:    profile.ExplicitPrefs,
		TopCategories:    e.topCategories(sessionID, 5),
		ProfileStrength:  profileStrength(profile),
		ModelVersion:     profile.ModelVersion,
		LastUpdated:      profile.LastUpdated,
	}
	return insights, nil
}

// UpdatePreferences merges an explicit preference overlay into the profile.
// Values are clamped to [-1, 1]. The merge runs through the updater's
// per-session lock so it serializes with interaction-driven updates.
func (e *Engine) UpdatePreferences(ctx context.Context, sessionID string, prefs map[string]float64) error {
	if _, err := e.updater.ApplyPreferences(ctx, sessionID, prefs); err != nil {
		return err
	}
	e.cache.InvalidateSession(ctx, sessionID)
	return nil
}

// History returns the session's recent interactions, newest first.
func (e *Engine) History(sessionID string, limit int) []*models.InteractionEvent {
	return e.interactions.History(sessionID, limit)
}

// SubmitFeedback folds explicit feedback into the interaction log as a
// weighted event under the submitting session.
func (e *Engine) SubmitFeedback(ctx context.Context, req *models.FeedbackRequest) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "anonymous"
	}

	interactionType, weight := feedbackSignal(req.FeedbackType)
	e.LogInteraction(ctx, &models.InteractionRequest{
		SessionID: sessionID,
		ItemID:    req.ItemID,
		Type:      interactionType,
		Weight:    &weight,
		Metadata:  req.Metadata,
	})
}

// ClusteringAnalysis reports the published model's partition: per-cluster
// size, cohesion, and dominant categories.
func (e *Engine) ClusteringAnalysis() *models.ClusteringAnalysis {
	snapshot := e.store.Snapshot()
	analysis := &models.ClusteringAnalysis{
		ModelVersion: snapshot.Version,
		K:            snapshot.Clustering.K(),
		TotalItems:   len(snapshot.Vectors),
		TrainedAt:    snapshot.TrainedAt,
	}

	for _, cluster := range snapshot.Clustering.Clusters() {
		summary := models.ClusterSummary{
			ClusterID: cluster.ID,
			Size:      cluster.Size(),
			Cohesion:  snapshot.Clustering.Cohesion(cluster.ID, snapshot.Vectors),
		}

		counts := make(map[string]int)
		for _, id := range cluster.Members {
			if item, ok := e.store.Item(id); ok {
				for _, category := range item.Categories {
					counts[category]++
				}
			}
		}
		categories := make([]string, 0, len(counts))
		for category := range counts {
			categories = append(categories, category)
		}
		sort.Slice(categories, func(i, j int) bool {
			if counts[categories[i]] != counts[categories[j]] {
				return counts[categories[i]] > counts[categories[j]]
			}
			return categories[i] < categories[j]
		})
		if len(categories) > 3 {
			categories = categories[:3]
		}
		summary.TopCategories = categories

		analysis.Clusters = append(analysis.Clusters, summary)
	}
	return analysis
}

func (e *Engine) applyDefaults(req *models.RecommendationRequest) {
	if req.Algorithm == "" {
		req.Algorithm = models.AlgorithmHybrid
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if !req.DiversityBoostSet {
		req.DiversityBoost = e.cfg.Diversity.DefaultBoost
		req.DiversityBoostSet = true
	}
}

// applyPreferenceOverlay nudges a score by the session's strongest explicit
// preference among the item's categories, keeping the result in [0, 1].
func (e *Engine) applyPreferenceOverlay(score float64, itemID uuid.UUID, profile *models.UserProfile) float64 {
	if len(profile.ExplicitPrefs) == 0 {
		return score
	}
	item, ok := e.store.Item(itemID)
	if !ok {
		return score
	}

	var overlay float64
	for _, category := range item.Categories {
		if pref, ok := profile.ExplicitPrefs[category]; ok && math.Abs(pref) > math.Abs(overlay) {
			overlay = pref
		}
	}
	if overlay == 0 {
		return score
	}

	// Blend 20% of the explicit signal in, mapped from [-1,1] to [0,1].
	return clamp01(0.8*score + 0.2*(overlay+1)/2)
}

func (e *Engine) explain(items []models.ScoredItem, selected []RankedCandidate, profile *models.UserProfile) {
	for i := range items {
		candidate := selected[i]
		similarity := contentSimilarity(candidate.Vector, profile.Vector)
		var text string
		switch {
		case similarity >= 0.6:
			text = fmt.Sprintf("closely matches your interests (similarity %.2f)", similarity)
		case candidate.Popularity >= 0.7:
			text = "trending with other readers"
		default:
			text = fmt.Sprintf("blended relevance score %.2f", candidate.Score)
		}
		items[i].Explanation = &text
	}
}

// recordOutcomes attributes the interaction to the session's variant in
// every active experiment.
func (e *Engine) recordOutcomes(sessionID string, weight float64) {
	if e.abTests == nil {
		return
	}
	for _, testName := range e.abTests.Tests() {
		variant, ok := e.abTests.VariantFor(sessionID, testName)
		if !ok {
			continue
		}
		if err := e.abTests.RecordOutcome(testName, variant, "interaction_weight", weight); err != nil {
			e.logger.WithError(err).WithField("test", testName).
				Debug("Failed to record experiment outcome")
		}
	}
}

// topCategories tallies interaction weight per category over the session's
// recent history.
func (e *Engine) topCategories(sessionID string, limit int) []models.CategoryAffinity {
	history := e.interactions.History(sessionID, historyWindow)
	weights := make(map[string]float64)
	for _, event := range history {
		item, ok := e.store.Item(event.ItemID)
		if !ok {
			continue
		}
		for _, category := range item.Categories {
			weights[category] += event.Weight
		}
	}

	affinities := make([]models.CategoryAffinity, 0, len(weights))
	var maxWeight float64
	for _, w := range weights {
		if math.Abs(w) > maxWeight {
			maxWeight = math.Abs(w)
		}
	}
	for category, w := range weights {
		affinity := w
		if maxWeight > 0 {
			affinity = w / maxWeight
		}
		affinities = append(affinities, models.CategoryAffinity{Category: category, Affinity: affinity})
	}

	sort.Slice(affinities, func(i, j int) bool {
		if affinities[i].Affinity != affinities[j].Affinity {
			return affinities[i].Affinity > affinities[j].Affinity
		}
		return affinities[i].Category < affinities[j].Category
	})
	if limit < len(affinities) {
		affinities = affinities[:limit]
	}
	return affinities
}

// profileStrength maps interaction volume onto [0, 1], saturating around
// twenty events.
func profileStrength(profile *models.UserProfile) float64 {
	return clamp01(float64(profile.InteractionCount) / 20)
}

// feedbackSignal maps a feedback type onto an interaction event.
func feedbackSignal(feedbackType string) (string, float64) {
	switch feedbackType {
	case "positive":
		return models.InteractionLike, 1.0
	case "negative":
		return models.InteractionDislike, -1.0
	case "not_interested":
		return models.InteractionDislike, -0.5
	case "inappropriate":
		return models.InteractionDislike, -0.8
	default:
		return models.InteractionView, 0.1
	}
}
