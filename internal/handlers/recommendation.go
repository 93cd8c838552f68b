package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/services"
	"github.com/lodestone-io/lodestone/pkg/models"
)

type RecommendationHandler struct {
	engine *services.Engine
	logger *logrus.Logger
}

func NewRecommendationHandler(engine *services.Engine, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		engine: engine,
		logger: logger,
	}
}

func (h *RecommendationHandler) Get(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_SESSION_ID",
				"message": "Session ID is required",
			},
		})
		return
	}

	req := &models.RecommendationRequest{
		SessionID: sessionID,
		Algorithm: c.DefaultQuery("algorithm", models.AlgorithmHybrid),
		Explain:   c.Query("explain") == "true",
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			req.Limit = limit
		}
	}

	if boostStr := c.Query("diversity_boost"); boostStr != "" {
		boost, err := strconv.ParseFloat(boostStr, 64)
		if err != nil || boost < 0 || boost > 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_DIVERSITY_BOOST",
					"message": "diversity_boost must be a number in [0, 1]",
				},
			})
			return
		}
		req.DiversityBoost = boost
		req.DiversityBoostSet = true
	}

	if currentStr := c.Query("current_item"); currentStr != "" {
		currentItem, err := uuid.Parse(currentStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_ITEM_ID",
					"message": "Invalid current_item format",
				},
			})
			return
		}
		req.CurrentItem = &currentItem
	}

	if excludeStr := c.Query("exclude"); excludeStr != "" {
		for _, itemStr := range strings.Split(excludeStr, ",") {
			if itemID, err := uuid.Parse(strings.TrimSpace(itemStr)); err == nil {
				req.ExcludeItems = append(req.ExcludeItems, itemID)
			}
		}
	}

	result, err := h.engine.Recommend(c.Request.Context(), req)
	if err != nil {
		if models.IsKind(err, models.ErrKindRecommendation) {
			h.logger.WithError(err).WithField("session_id", sessionID).
				Info("No candidates for session, caller should fall back")
		} else {
			h.logger.WithError(err).WithField("session_id", sessionID).
				Error("Failed to generate recommendations")
		}
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
