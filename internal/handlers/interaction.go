package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/services"
	"github.com/lodestone-io/lodestone/internal/validation"
	"github.com/lodestone-io/lodestone/pkg/models"
)

type InteractionHandler struct {
	engine    *services.Engine
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

func NewInteractionHandler(engine *services.Engine, validator *validation.SchemaValidator, logger *logrus.Logger) *InteractionHandler {
	return &InteractionHandler{
		engine:    engine,
		validator: validator,
		logger:    logger,
	}
}

// Log accepts one interaction event. Malformed payloads are rejected, but
// once a payload is accepted the response is always 202: internal failures
// are recorded, never surfaced to the caller.
func (h *InteractionHandler) Log(c *gin.Context) {
	var req models.InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}

	if result := h.validator.ValidateInteraction(&req); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Interaction payload failed validation",
				"details": result.ErrorDetails(),
			},
		})
		return
	}

	h.engine.LogInteraction(c.Request.Context(), &req)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Feedback accepts explicit item feedback and folds it into the
// interaction stream.
func (h *InteractionHandler) Feedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}

	h.engine.SubmitFeedback(c.Request.Context(), &req)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
