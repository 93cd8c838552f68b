package services

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/internal/ml"
	"github.com/lodestone-io/lodestone/pkg/models"
)

// TrainingNotifier publishes job-completion events for interested
// collaborators. Optional; a nil notifier disables publication.
type TrainingNotifier interface {
	PublishTrainingCompleted(ctx context.Context, job *models.TrainingJob) error
}

// TrainingOrchestrator runs offline (re)training: it featurizes the corpus,
// rebuilds the clustering model, evaluates cohesion, and atomically
// publishes the resulting snapshot. Jobs run off the serving path, are
// cancellable, and leave the published model untouched on any failure.
type TrainingOrchestrator struct {
	store        *FeatureStore
	interactions *InteractionLog
	featurizer   *ml.Featurizer
	cfg          config.TrainingConfig
	notifier     TrainingNotifier
	db           *pgxpool.Pool
	warm         *redis.Client
	logger       *logrus.Logger

	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.TrainingJob
	order   []uuid.UUID
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastTrainedAt time.Time
}

func NewTrainingOrchestrator(
	store *FeatureStore,
	interactions *InteractionLog,
	featurizer *ml.Featurizer,
	cfg config.TrainingConfig,
	notifier TrainingNotifier,
	db *pgxpool.Pool,
	warm *redis.Client,
	logger *logrus.Logger,
) *TrainingOrchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &TrainingOrchestrator{
		store:        store,
		interactions: interactions,
		featurizer:   featurizer,
		cfg:          cfg,
		notifier:     notifier,
		db:           db,
		warm:         warm,
		logger:       logger,
		jobs:         make(map[uuid.UUID]*models.TrainingJob),
	}
}

// Train starts a training job. Async jobs return immediately with the job
// in progress; sync jobs return after the job reaches a terminal state.
// Only one job runs at a time.
func (t *TrainingOrchestrator) Train(req *models.TrainingRequest) (*models.TrainingJob, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.TrainingModeFull
	}
	if mode != models.TrainingModeFull && mode != models.TrainingModeIncremental {
		return nil, models.NewValidationError("invalid_mode",
			"unknown training mode %q", mode).WithContext("mode", mode)
	}
	k := t.cfg.K
	if req.K > 0 {
		k = req.K
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil, models.NewTrainingError("job_in_progress", "a training job is already running")
	}

	job := &models.TrainingJob{
		ID:        uuid.New(),
		Mode:      mode,
		Status:    models.JobStatusIdle,
		StartedAt: time.Now(),
	}
	t.jobs[job.ID] = job
	t.order = append(t.order, job.ID)
	t.running = true

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.JobTimeout)
	t.cancel = cancel
	t.mu.Unlock()

	async := req.Async == nil || *req.Async
	if async {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer cancel()
			t.run(ctx, job, k, req.BatchSize, req.Notify)
		}()
		return t.jobSnapshot(job.ID), nil
	}

	defer cancel()
	t.run(ctx, job, k, req.BatchSize, req.Notify)
	return t.jobSnapshot(job.ID), nil
}

// Job returns a copy of one job's current state.
func (t *TrainingOrchestrator) Job(id uuid.UUID) (*models.TrainingJob, bool) {
	job := t.jobSnapshot(id)
	return job, job != nil
}

// Jobs returns all jobs, newest first, for the audit surface.
func (t *TrainingOrchestrator) Jobs() []*models.TrainingJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*models.TrainingJob, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		cp := *t.jobs[t.order[i]]
		out = append(out, &cp)
	}
	return out
}

// LastTrainedAt reports when the last successful job published, zero if
// never.
func (t *TrainingOrchestrator) LastTrainedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTrainedAt
}

// Stop cancels any running job and waits for it to settle.
func (t *TrainingOrchestrator) Stop() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *TrainingOrchestrator) run(ctx context.Context, job *models.TrainingJob, k, batchSize int, notify bool) {
	t.transition(job, models.JobStatusValidating)

	items := t.store.Items()
	sufficiency := []models.DataSufficiency{
		{DataType: "content_items", Required: t.cfg.MinContentItems, Actual: len(items)},
		{DataType: "interaction_events", Required: t.cfg.MinInteractions, Actual: t.interactions.Total()},
	}
	t.setSufficiency(job, sufficiency)

	for _, s := range sufficiency {
		if s.Actual < s.Required {
			t.fail(job, models.NewTrainingError("insufficient_data",
				"insufficient %s: %d required, %d available", s.DataType, s.Required, s.Actual).
				WithContext("data_type", s.DataType).
				WithContext("required", s.Required).
				WithContext("actual", s.Actual))
			return
		}
	}

	t.transition(job, models.JobStatusTraining)

	current := t.store.Snapshot()
	vectors := make(map[uuid.UUID]*models.ContentVector, len(items))
	now := time.Now()
	nextVersion := current.Version + 1
	trained := 0

	stale := make(map[uuid.UUID]bool)
	var deferred []uuid.UUID
	if job.Mode == models.TrainingModeIncremental {
		for _, id := range t.store.StaleItems() {
			stale[id] = true
		}
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			t.fail(job, models.NewTrainingError("job_cancelled",
				"training job cancelled or timed out").WithCause(err))
			return
		}

		if job.Mode == models.TrainingModeIncremental && !stale[item.ID] {
			if existing := current.Vector(item.ID); existing != nil {
				vectors[item.ID] = existing
				continue
			}
		}

		// A batch cap defers excess stale refreshes to the next run; items
		// without an existing vector are always computed.
		if batchSize > 0 && stale[item.ID] && trained >= batchSize {
			if existing := current.Vector(item.ID); existing != nil {
				vectors[item.ID] = existing
				deferred = append(deferred, item.ID)
				continue
			}
		}

		vectors[item.ID] = &models.ContentVector{
			ItemID:     item.ID,
			Vector:     t.featurizer.Vector(item),
			Version:    nextVersion,
			ComputedAt: now,
		}
		trained++
	}

	clustering := BuildClusteringModel(vectors, k, t.cfg.MaxIterations)
	popularity, byPopularity := t.popularityIndex(items)
	byRecency := recencyIndex(items)

	t.transition(job, models.JobStatusEvaluating)
	cohesion := clustering.AverageCohesion(vectors)

	if err := ctx.Err(); err != nil {
		t.fail(job, models.NewTrainingError("job_cancelled",
			"training job cancelled or timed out").WithCause(err))
		return
	}

	snapshot := &ModelSnapshot{
		Version:      nextVersion,
		Dimensions:   t.featurizer.Dimensions(),
		Vectors:      vectors,
		Clustering:   clustering,
		Popularity:   popularity,
		ByPopularity: byPopularity,
		ByRecency:    byRecency,
		TrainedAt:    now,
	}
	t.store.Publish(snapshot)
	for _, id := range deferred {
		t.store.MarkStale(id)
	}

	t.mu.Lock()
	finished := time.Now()
	job.Status = models.JobStatusCompleted
	job.FinishedAt = &finished
	job.CohesionScore = &cohesion
	job.ModelVersion = &nextVersion
	job.ItemsTrained = trained
	t.running = false
	t.cancel = nil
	t.lastTrainedAt = finished
	t.mu.Unlock()

	t.mirror(job)
	t.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"mode":          job.Mode,
		"items_trained": trained,
		"clusters":      clustering.K(),
		"cohesion":      cohesion,
		"model_version": nextVersion,
	}).Info("Training job completed")

	if notify && t.notifier != nil {
		if err := t.notifier.PublishTrainingCompleted(context.Background(), t.jobSnapshot(job.ID)); err != nil {
			t.logger.WithError(err).Warn("Failed to publish training notification")
		}
	}
}

func (t *TrainingOrchestrator) transition(job *models.TrainingJob, status string) {
	t.mu.Lock()
	job.Status = status
	t.mu.Unlock()
	t.mirror(job)
}

func (t *TrainingOrchestrator) setSufficiency(job *models.TrainingJob, s []models.DataSufficiency) {
	t.mu.Lock()
	job.Sufficiency = s
	t.mu.Unlock()
}

func (t *TrainingOrchestrator) fail(job *models.TrainingJob, err error) {
	msg := err.Error()
	t.mu.Lock()
	finished := time.Now()
	job.Status = models.JobStatusFailed
	job.FinishedAt = &finished
	job.ErrorMessage = &msg
	t.running = false
	t.cancel = nil
	t.mu.Unlock()

	t.mirror(job)
	t.logger.WithError(err).WithFields(logrus.Fields{
		"job_id": job.ID,
		"mode":   job.Mode,
	}).Error("Training job failed")
}

func (t *TrainingOrchestrator) jobSnapshot(id uuid.UUID) *models.TrainingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// mirror writes the job's state to the audit stores. Best-effort; failures
// only log.
func (t *TrainingOrchestrator) mirror(job *models.TrainingJob) {
	snapshot := t.jobSnapshot(job.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if t.warm != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			if err := t.warm.Set(ctx, "training:job:"+job.ID.String(), data, 24*time.Hour).Err(); err != nil {
				t.logger.WithError(err).Debug("Failed to mirror job to redis")
			}
		}
	}

	if t.db != nil {
		query := `
			INSERT INTO training_jobs (id, mode, status, started_at, finished_at, model_version, items_trained, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				finished_at = EXCLUDED.finished_at,
				model_version = EXCLUDED.model_version,
				items_trained = EXCLUDED.items_trained,
				error_message = EXCLUDED.error_message
		`
		if _, err := t.db.Exec(ctx, query,
			snapshot.ID, snapshot.Mode, snapshot.Status, snapshot.StartedAt,
			snapshot.FinishedAt, snapshot.ModelVersion, snapshot.ItemsTrained,
			snapshot.ErrorMessage); err != nil {
			t.logger.WithError(err).Debug("Failed to mirror job to postgres")
		}
	}
}

// popularityIndex derives each item's normalized popularity from observed
// interaction volume on a log scale, falling back to the item's own
// popularity field when nothing has been observed yet. Returns the score
// table and the ids ordered most-popular first.
func (t *TrainingOrchestrator) popularityIndex(items []*models.ContentItem) (map[uuid.UUID]float64, []uuid.UUID) {
	counts := t.interactions.ItemCounts()

	var maxLog float64
	for _, n := range counts {
		if l := math.Log1p(float64(n)); l > maxLog {
			maxLog = l
		}
	}

	scores := make(map[uuid.UUID]float64, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		score := clamp01(item.Popularity)
		if n, ok := counts[item.ID]; ok && maxLog > 0 {
			score = math.Log1p(float64(n)) / maxLog
		}
		scores[item.ID] = score
		ids = append(ids, item.ID)
	}

	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i].String() < ids[j].String()
	})
	return scores, ids
}

// recencyIndex orders ids newest first, ties by item id.
func recencyIndex(items []*models.ContentItem) []uuid.UUID {
	sorted := make([]*models.ContentItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].PublishedAt.Equal(sorted[j].PublishedAt) {
			return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	ids := make([]uuid.UUID, len(sorted))
	for i, item := range sorted {
		ids[i] = item.ID
	}
	return ids
}
