package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/session"
)

// ErrResultNotFound is returned when no graded result exists for a session.
var ErrResultNotFound = errors.New("result not found")

// PaperLoader supplies the full, ordered question set of an exam.
type PaperLoader interface {
	LoadPaper(ctx context.Context, examID int64) (*model.Exam, error)
}

// SessionHistoryStore reads persisted sessions.
type SessionHistoryStore interface {
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.SessionHistoryItem, int, error)
	GetResult(ctx context.Context, sessionID uuid.UUID, userID int64) (*model.SubmissionResult, error)
}

// NavigateAction selects how the display cursor moves.
type NavigateAction string

const (
	NavigateNext     NavigateAction = "next"
	NavigatePrevious NavigateAction = "previous"
)

// ExamSessionService exposes exam attempts to the transport layer.
type ExamSessionService struct {
	manager *session.Manager
	papers  PaperLoader
	history SessionHistoryStore
	log     zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(manager *session.Manager, papers PaperLoader, history SessionHistoryStore, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		manager: manager,
		papers:  papers,
		history: history,
		log:     log.With().Str("component", "exam_session_service").Logger(),
	}
}

// Start opens (or resumes) the user's attempt at examID.
func (s *ExamSessionService) Start(ctx context.Context, userID, examID int64) (model.SessionState, error) {
	exam, err := s.papers.LoadPaper(ctx, examID)
	if err != nil {
		return model.SessionState{}, err
	}
	sess, err := s.manager.Start(ctx, userID, exam)
	if err != nil {
		return model.SessionState{}, fmt.Errorf("start session: %w", err)
	}
	return sess.State(), nil
}

// State returns the live state of one of the user's sessions.
func (s *ExamSessionService) State(userID int64, sessionID uuid.UUID) (model.SessionState, error) {
	sess, err := s.manager.GetForUser(sessionID, userID)
	if err != nil {
		return model.SessionState{}, err
	}
	return sess.State(), nil
}

// RecordAnswer saves one answer on a live session.
func (s *ExamSessionService) RecordAnswer(userID int64, sessionID uuid.UUID, questionID int64, answer string) error {
	sess, err := s.manager.GetForUser(sessionID, userID)
	if err != nil {
		return err
	}
	return sess.RecordAnswer(questionID, answer)
}

// Submit grades and persists the session.
func (s *ExamSessionService) Submit(ctx context.Context, userID int64, sessionID uuid.UUID) (model.SubmissionResult, error) {
	sess, err := s.manager.GetForUser(sessionID, userID)
	if err != nil {
		// A graded session has already left the registry.
		if errors.Is(err, session.ErrSessionNotFound) {
			if res, rerr := s.Result(ctx, userID, sessionID); rerr == nil {
				return *res, nil
			}
		}
		return model.SubmissionResult{}, err
	}
	return sess.Submit(ctx)
}

// Exit abandons a live session.
func (s *ExamSessionService) Exit(userID int64, sessionID uuid.UUID) error {
	sess, err := s.manager.GetForUser(sessionID, userID)
	if err != nil {
		return err
	}
	return sess.Exit()
}

// Navigate moves the display cursor one step and returns the new state.
func (s *ExamSessionService) Navigate(userID int64, sessionID uuid.UUID, action NavigateAction) (model.SessionState, error) {
	sess, err := s.manager.GetForUser(sessionID, userID)
	if err != nil {
		return model.SessionState{}, err
	}
	switch action {
	case NavigateNext:
		sess.Next()
	case NavigatePrevious:
		sess.Previous()
	default:
		return model.SessionState{}, fmt.Errorf("unknown navigation %q", action)
	}
	return sess.State(), nil
}

// Jump moves the display cursor to index.
func (s *ExamSessionService) Jump(userID int64, sessionID uuid.UUID, index int) (model.SessionState, error) {
	sess, err := s.manager.GetForUser(sessionID, userID)
	if err != nil {
		return model.SessionState{}, err
	}
	if _, err := sess.Jump(index); err != nil {
		return model.SessionState{}, err
	}
	return sess.State(), nil
}

// Result returns the graded result of a session, from memory while the
// session is still registered, otherwise from the database.
func (s *ExamSessionService) Result(ctx context.Context, userID int64, sessionID uuid.UUID) (*model.SubmissionResult, error) {
	if sess, err := s.manager.GetForUser(sessionID, userID); err == nil {
		state := sess.State()
		if state.Result != nil {
			return state.Result, nil
		}
		return nil, ErrResultNotFound
	}

	res, err := s.history.GetResult(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

// History returns one page of the user's graded sessions.
func (s *ExamSessionService) History(ctx context.Context, userID int64, page, perPage int) ([]model.SessionHistoryItem, int, error) {
	page, perPage = NormalizePage(page, perPage)
	items, total, err := s.history.ListByUser(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	if items == nil {
		items = []model.SessionHistoryItem{}
	}
	return items, total, nil
}

// NormalizePage clamps paging input to page >= 1 and 1 <= perPage <= 100,
// defaulting perPage to 20.
func NormalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}
