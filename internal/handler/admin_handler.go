package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// AdminHandler handles catalog maintenance and reporting for operators.
type AdminHandler struct {
	catalog  *service.CatalogService
	mistakes *service.MistakeService
	log      zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(catalog *service.CatalogService, mistakes *service.MistakeService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		catalog:  catalog,
		mistakes: mistakes,
		log:      log.With().Str("component", "admin_handler").Logger(),
	}
}

// ImportExam godoc
// POST /api/v1/admin/exams
// Body is an ExamImport document. Field errors come back keyed by JSON path,
// e.g. "questions[2].kind".
func (h *AdminHandler) ImportExam(c *gin.Context) {
	var imp model.ExamImport
	// Decoding only; the catalog owns the validation rules.
	if fields := validator.Bind(c, &imp); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return
	}

	id, err := h.catalog.Import(c.Request.Context(), &imp)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"exam_id": id})
}

// RefreshPaper godoc
// POST /api/v1/admin/exams/:exam_id/refresh
func (h *AdminHandler) RefreshPaper(c *gin.Context) {
	examID, ok := paramInt64(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.catalog.RefreshPaper(c.Request.Context(), examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	h.log.Info().Int64("exam_id", examID).Msg("Exam paper cache refreshed")
	response.Success(c, http.StatusOK, gin.H{
		"exam_id":        exam.ID,
		"question_count": len(exam.Questions),
	})
}

// TopMistakes godoc
// GET /api/v1/admin/mistakes/top?limit=10
func (h *AdminHandler) TopMistakes(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	ranks, err := h.mistakes.TopQuestions(c.Request.Context(), limit)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": ranks})
}
