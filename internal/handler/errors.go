package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/session"
)

// errorStatus maps a domain error to its HTTP status and API code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, session.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, session.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, session.ErrPersistence):
		return http.StatusServiceUnavailable, response.ErrSubmissionFailed
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrQuestionNotFound):
		return http.StatusNotFound, response.ErrQuestionNotFound
	case errors.Is(err, service.ErrResultNotFound):
		return http.StatusNotFound, response.ErrResultNotReady
	case errors.Is(err, service.ErrNotCodeQuestion):
		return http.StatusBadRequest, response.ErrNotCodeQuestion
	case errors.Is(err, service.ErrMistakeNotFound):
		return http.StatusNotFound, response.ErrMistakeNotFound
	case errors.Is(err, service.ErrSandboxUnavailable):
		return http.StatusServiceUnavailable, response.ErrSandboxUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWithError writes the error envelope for err. Unexpected errors are
// logged; expected domain errors are not.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	var ie *service.ImportError
	if errors.As(err, &ie) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, ie.Fields)
		return
	}
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// requireClaims returns the caller's claims or writes a 401.
func requireClaims(c *gin.Context) (*service.Claims, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	return claims, true
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
