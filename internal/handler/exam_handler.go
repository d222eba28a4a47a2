package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// ExamHandler serves the exam catalog to learners.
type ExamHandler struct {
	catalog *service.CatalogService
	log     zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(catalog *service.CatalogService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		catalog: catalog,
		log:     log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/exams
func (h *ExamHandler) ListExams(c *gin.Context) {
	exams, err := h.catalog.ListExams(c.Request.Context())
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// GetExam godoc
// GET /api/v1/exams/:exam_id
// Returns the exam header. Questions are only handed out inside a session.
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := paramInt64(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.catalog.LoadPaper(c.Request.Context(), examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	header := *exam
	header.QuestionCount = len(exam.Questions)
	header.Questions = nil
	response.Success(c, http.StatusOK, gin.H{"exam": header})
}
