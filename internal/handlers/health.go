package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/services"
)

type HealthHandler struct {
	logger   *logrus.Logger
	services *services.Services
}

func NewHealthHandler(logger *logrus.Logger, svc *services.Services) *HealthHandler {
	return &HealthHandler{
		logger:   logger,
		services: svc,
	}
}

// Check reports serving readiness: the published model version and when it
// was last trained. A version-0 snapshot means the engine is up but
// serving fallbacks only.
func (h *HealthHandler) Check(c *gin.Context) {
	snapshot := h.services.FeatureStore.Snapshot()

	status := "healthy"
	if snapshot.Version == 0 {
		status = "degraded"
	}

	body := gin.H{
		"status":        status,
		"model_version": snapshot.Version,
	}
	if lastTrained := h.services.Trainer.LastTrainedAt(); !lastTrained.IsZero() {
		body["last_trained_at"] = lastTrained.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, body)
}
