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

// CodeHandler backs the code editor outside of graded submissions.
type CodeHandler struct {
	code *service.CodeService
	log  zerolog.Logger
}

// NewCodeHandler creates a new CodeHandler.
func NewCodeHandler(code *service.CodeService, log zerolog.Logger) *CodeHandler {
	return &CodeHandler{
		code: code,
		log:  log.With().Str("component", "code_handler").Logger(),
	}
}

// Run godoc
// POST /api/v1/code/run
// Runs a snippet once with the given stdin.
func (h *CodeHandler) Run(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req model.RunCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.code.Run(c.Request.Context(), claims.UserID, req.Code, req.Stdin)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"status":      out.Status,
		"stdout":      out.Stdout,
		"stderr":      out.Stderr,
		"duration_ms": out.Duration.Milliseconds(),
		"truncated":   out.Truncated,
	})
}

// RunSamples godoc
// POST /api/v1/code/questions/:question_id/samples
// Checks code against the question's sample cases only.
func (h *CodeHandler) RunSamples(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	questionID, ok := paramInt64(c, "question_id")
	if !ok {
		return
	}

	var req model.RunSamplesRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	reports, err := h.code.RunSamples(c.Request.Context(), claims.UserID, questionID, req.Code)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	passed := 0
	for _, r := range reports {
		if r.Passed {
			passed++
		}
	}
	response.Success(c, http.StatusOK, gin.H{
		"cases":  reports,
		"passed": passed,
		"total":  len(reports),
	})
}
