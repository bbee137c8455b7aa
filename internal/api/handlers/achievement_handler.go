package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"trekkr/internal/api/middleware"
	"trekkr/internal/services"
)

type AchievementHandler struct {
	achievementService *services.AchievementService
}

func NewAchievementHandler(achievementService *services.AchievementService) *AchievementHandler {
	return &AchievementHandler{
		achievementService: achievementService,
	}
}

// List handles GET /api/v1/achievements
func (h *AchievementHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)

	statuses, err := h.achievementService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	unlocked := 0
	for _, s := range statuses {
		if s.Unlocked {
			unlocked++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"achievements":   statuses,
		"total":          len(statuses),
		"unlocked_count": unlocked,
	})
}

// Unlocked handles GET /api/v1/achievements/unlocked
func (h *AchievementHandler) Unlocked(c *gin.Context) {
	userID := middleware.GetUserID(c)

	statuses, err := h.achievementService.Unlocked(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"achievements": statuses,
		"total":        len(statuses),
	})
}
