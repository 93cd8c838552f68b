package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/services"
	"github.com/lodestone-io/lodestone/pkg/models"
)

type ProfileHandler struct {
	engine *services.Engine
	logger *logrus.Logger
}

func NewProfileHandler(engine *services.Engine, logger *logrus.Logger) *ProfileHandler {
	return &ProfileHandler{
		engine: engine,
		logger: logger,
	}
}

func (h *ProfileHandler) Insights(c *gin.Context) {
	sessionID := c.Param("sessionId")

	insights, err := h.engine.Insights(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error("Failed to build profile insights")
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, insights)
}

func (h *ProfileHandler) UpdatePreferences(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req models.PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}

	if err := h.engine.UpdatePreferences(c.Request.Context(), sessionID, req.Preferences); err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error("Failed to update preferences")
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *ProfileHandler) History(c *gin.Context) {
	sessionID := c.Param("sessionId")

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	history := h.engine.History(sessionID, limit)
	c.JSON(http.StatusOK, gin.H{
		"session_id":   sessionID,
		"interactions": history,
	})
}
