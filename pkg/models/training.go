package models

import (
	"time"

	"github.com/google/uuid"
)

// Training modes.
const (
	TrainingModeFull        = "full"
	TrainingModeIncremental = "incremental"
)

// Training job states. A job moves Idle → Validating → Training →
// Evaluating → Completed, or to Failed from any non-idle state.
const (
	JobStatusIdle       = "idle"
	JobStatusValidating = "validating"
	JobStatusTraining   = "training"
	JobStatusEvaluating = "evaluating"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DataSufficiency records one minimum-corpus check performed while a job
// validates.
type DataSufficiency struct {
	DataType string `json:"data_type"`
	Required int    `json:"required"`
	Actual   int    `json:"actual"`
}

// TrainingJob is one (re)training run; historical jobs are retained for
// audit.
type TrainingJob struct {
	ID            uuid.UUID         `json:"job_id"`
	Mode          string            `json:"mode"`
	Status        string            `json:"status"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	Sufficiency   []DataSufficiency `json:"data_sufficiency,omitempty"`
	CohesionScore *float64          `json:"cohesion_score,omitempty"`
	ModelVersion  *int64            `json:"model_version,omitempty"`
	ItemsTrained  int               `json:"items_trained"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
}

// TrainingRequest is the operator train payload.
type TrainingRequest struct {
	Mode       string `json:"mode"`
	BatchSize  int    `json:"batch_size,omitempty"`
	Async      *bool  `json:"async,omitempty"`
	ClearCache bool   `json:"clear_cache,omitempty"`
	Notify     bool   `json:"notify,omitempty"`
	K          int    `json:"k,omitempty"`
}

// ClusterSummary is one entry of the clustering analysis report.
type ClusterSummary struct {
	ClusterID     int      `json:"cluster_id"`
	Size          int      `json:"size"`
	Cohesion      float64  `json:"cohesion"`
	TopCategories []string `json:"top_categories,omitempty"`
}

// ClusteringAnalysis is the operator clustering report.
type ClusteringAnalysis struct {
	ModelVersion int64            `json:"model_version"`
	K            int              `json:"k"`
	TotalItems   int              `json:"total_items"`
	Clusters     []ClusterSummary `json:"clusters"`
	TrainedAt    time.Time        `json:"trained_at"`
}
