package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/services"
	"github.com/lodestone-io/lodestone/internal/validation"
	"github.com/lodestone-io/lodestone/pkg/models"
)

type AdminHandler struct {
	services  *services.Services
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

func NewAdminHandler(svc *services.Services, validator *validation.SchemaValidator, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		services:  svc,
		validator: validator,
		logger:    logger,
	}
}

// StartTraining triggers a training job.
func (h *AdminHandler) StartTraining(c *gin.Context) {
	var req models.TrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}

	job, err := h.services.Trainer.Train(&req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to start training job")
		errorResponse(c, err)
		return
	}

	if req.ClearCache {
		h.services.Cache.InvalidateAll(c.Request.Context())
	}

	c.JSON(http.StatusAccepted, job)
}

// GetTrainingJob returns one job's state.
func (h *AdminHandler) GetTrainingJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_JOB_ID",
				"message": "Invalid job ID format",
			},
		})
		return
	}

	job, ok := h.services.Trainer.Job(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "Training job not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListTrainingJobs returns the audit history, newest first.
func (h *AdminHandler) ListTrainingJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.services.Trainer.Jobs()})
}

// GetMetrics aggregates serving metrics over a time range, defaulting to
// the last hour.
func (h *AdminHandler) GetMetrics(c *gin.Context) {
	to := time.Now()
	from := to.Add(-time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_TIME_RANGE",
					"message": "from must be RFC3339",
				},
			})
			return
		}
		from = parsed
	}
	if toStr := c.Query("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_TIME_RANGE",
					"message": "to must be RFC3339",
				},
			})
			return
		}
		to = parsed
	}

	c.JSON(http.StatusOK, h.services.Metrics.Aggregate(from, to))
}

// GetClusteringAnalysis reports the published partition.
func (h *AdminHandler) GetClusteringAnalysis(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Engine.ClusteringAnalysis())
}

// RetrainClustering starts a full training run, optionally with an
// operator-supplied cluster count.
func (h *AdminHandler) RetrainClustering(c *gin.Context) {
	var req struct {
		K int `json:"k"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_REQUEST_BODY",
					"message": "Invalid request body format",
				},
			})
			return
		}
	}
	if req.K < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_K",
				"message": "k must be a positive integer",
			},
		})
		return
	}

	job, err := h.services.Trainer.Train(&models.TrainingRequest{
		Mode: models.TrainingModeFull,
		K:    req.K,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// CreateABTest registers a new experiment.
func (h *AdminHandler) CreateABTest(c *gin.Context) {
	var test models.ABTest
	if err := c.ShouldBindJSON(&test); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}

	if result := h.validator.ValidateABTest(&test); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Experiment definition failed validation",
				"details": result.ErrorDetails(),
			},
		})
		return
	}

	if err := h.services.ABTests.Create(&test); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": test.Name, "status": test.Status})
}

// GetABTestResults returns per-variant aggregates.
func (h *AdminHandler) GetABTestResults(c *gin.Context) {
	results, err := h.services.ABTests.Results(c.Param("name"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// AssignABTest resolves the deterministic variant for a session, useful for
// operators verifying allocations.
func (h *AdminHandler) AssignABTest(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_SESSION_ID",
				"message": "session_id query parameter is required",
			},
		})
		return
	}

	variant, err := h.services.ABTests.Assign(sessionID, c.Param("name"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"test":       c.Param("name"),
		"session_id": sessionID,
		"variant":    variant,
	})
}
