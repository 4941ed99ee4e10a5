package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/profile"
)

type surveyRequestPayload struct {
	Answers profile.Answers `json:"answers"`
}

func (h *httpHandler) handleSubmitSurvey(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request surveyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	updated, err := h.profiles.SubmitSurvey(c.Request.Context(), userID, request.Answers)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Survey submitted successfully",
		"onboarding": gin.H{"status": updated.OnboardingStatus, "answers": updated.Answers},
	})
}

func (h *httpHandler) handleSuggestions(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	candidates, err := h.ranker.RankCandidates(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}
