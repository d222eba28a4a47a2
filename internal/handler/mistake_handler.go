package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// MistakeHandler serves the learner's mistake book.
type MistakeHandler struct {
	mistakes *service.MistakeService
	log      zerolog.Logger
}

// NewMistakeHandler creates a new MistakeHandler.
func NewMistakeHandler(mistakes *service.MistakeService, log zerolog.Logger) *MistakeHandler {
	return &MistakeHandler{
		mistakes: mistakes,
		log:      log.With().Str("component", "mistake_handler").Logger(),
	}
}

// List godoc
// GET /api/v1/mistakes?include_mastered=true
func (h *MistakeHandler) List(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	includeMastered := c.Query("include_mastered") == "true"
	items, err := h.mistakes.List(c.Request.Context(), claims.UserID, includeMastered)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	// The counter lives in Redis; a miss there should not hide the book.
	total, err := h.mistakes.Count(c.Request.Context(), claims.UserID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("Mistake counter unavailable")
	}
	response.Success(c, http.StatusOK, gin.H{
		"mistakes":    items,
		"total_wrong": total,
	})
}

// MarkMastered godoc
// POST /api/v1/mistakes/:question_id/master
func (h *MistakeHandler) MarkMastered(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	questionID, ok := paramInt64(c, "question_id")
	if !ok {
		return
	}

	if err := h.mistakes.MarkMastered(c.Request.Context(), claims.UserID, questionID); err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": questionID, "mastered": true})
}
