package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/services"
	"github.com/lodestone-io/lodestone/internal/validation"
	"github.com/lodestone-io/lodestone/pkg/models"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Interaction    *InteractionHandler
	Profile        *ProfileHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, svc *services.Services, validator *validation.SchemaValidator) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, svc),
		Recommendation: NewRecommendationHandler(svc.Engine, logger),
		Interaction:    NewInteractionHandler(svc.Engine, validator, logger),
		Profile:        NewProfileHandler(svc.Engine, logger),
		Admin:          NewAdminHandler(svc, validator, logger),
	}
}

// errorResponse writes the structured envelope for an engine error, mapping
// its kind to the right status code.
func errorResponse(c *gin.Context, err error) {
	var engineErr *models.Error
	if e, ok := err.(*models.Error); ok {
		engineErr = e
	}

	if engineErr == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Internal server error",
			},
		})
		return
	}

	status := http.StatusInternalServerError
	switch engineErr.Kind {
	case models.ErrKindValidation:
		status = http.StatusBadRequest
	case models.ErrKindRecommendation:
		status = http.StatusNotFound
	case models.ErrKindTraining:
		status = http.StatusConflict
	case models.ErrKindProfileUpdate:
		status = http.StatusInternalServerError
	}

	body := gin.H{
		"code":    engineErr.Code,
		"message": engineErr.Message,
	}
	if len(engineErr.Context) > 0 {
		body["context"] = engineErr.Context
	}
	c.JSON(status, gin.H{"error": body})
}
