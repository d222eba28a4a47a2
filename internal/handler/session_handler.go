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

// SessionHandler handles exam taking over REST.
type SessionHandler struct {
	sessions *service.ExamSessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.ExamSessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/sessions
// Starts an attempt, or returns the caller's live attempt on the same exam.
func (h *SessionHandler) Start(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessions.Start(c.Request.Context(), claims.UserID, req.ExamID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, state)
}

// State godoc
// GET /api/v1/sessions/:session_id
func (h *SessionHandler) State(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	state, err := h.sessions.State(claims.UserID, sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// RecordAnswer godoc
// PUT /api/v1/sessions/:session_id/answers
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.RecordAnswer(claims.UserID, sessionID, req.QuestionID, req.Answer); err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved", "question_id": req.QuestionID})
}

// Next godoc
// POST /api/v1/sessions/:session_id/next
func (h *SessionHandler) Next(c *gin.Context) {
	h.navigate(c, service.NavigateNext)
}

// Previous godoc
// POST /api/v1/sessions/:session_id/previous
func (h *SessionHandler) Previous(c *gin.Context) {
	h.navigate(c, service.NavigatePrevious)
}

func (h *SessionHandler) navigate(c *gin.Context, action service.NavigateAction) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	state, err := h.sessions.Navigate(claims.UserID, sessionID, action)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Jump godoc
// POST /api/v1/sessions/:session_id/jump
func (h *SessionHandler) Jump(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	var req model.JumpRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessions.Jump(claims.UserID, sessionID, req.Index)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Submit godoc
// POST /api/v1/sessions/:session_id/submit
// Grades synchronously. A 503 SUBMISSION_FAILED means the result could not
// be stored yet; calling again retries without grading twice.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	result, err := h.sessions.Submit(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Exit godoc
// POST /api/v1/sessions/:session_id/exit
// Abandons the attempt without a trace.
func (h *SessionHandler) Exit(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	if err := h.sessions.Exit(claims.UserID, sessionID); err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "exited"})
}

// Result godoc
// GET /api/v1/sessions/:session_id/result
func (h *SessionHandler) Result(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	result, err := h.sessions.Result(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// History godoc
// GET /api/v1/history?page=1&per_page=20
func (h *SessionHandler) History(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	page, perPage := service.NormalizePage(queryInt(c, "page", 1), queryInt(c, "per_page", 20))
	items, total, err := h.sessions.History(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, items, response.NewPagination(page, perPage, total))
}
