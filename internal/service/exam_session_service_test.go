package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/judge"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/session"
)

type staticPapers struct {
	exams map[int64]*model.Exam
}

func (p staticPapers) LoadPaper(_ context.Context, examID int64) (*model.Exam, error) {
	e, ok := p.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

type memoryHistory struct {
	mu      sync.Mutex
	results map[uuid.UUID]model.Submission
	limit   int
	offset  int
}

func (h *memoryHistory) CommitSubmission(_ context.Context, sub model.Submission) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.results == nil {
		h.results = make(map[uuid.UUID]model.Submission)
	}
	h.results[sub.Session.ID] = sub
	return nil
}

func (h *memoryHistory) ListByUser(_ context.Context, userID int64, limit, offset int) ([]model.SessionHistoryItem, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit, h.offset = limit, offset
	var items []model.SessionHistoryItem
	for _, sub := range h.results {
		if sub.Session.UserID == userID {
			items = append(items, model.SessionHistoryItem{SessionID: sub.Session.ID, TotalScore: sub.TotalScore})
		}
	}
	return items, len(items), nil
}

func (h *memoryHistory) GetResult(_ context.Context, sessionID uuid.UUID, userID int64) (*model.SubmissionResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.results[sessionID]
	if !ok || sub.Session.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	return &model.SubmissionResult{
		SessionID:  sessionID,
		ExamID:     sub.Session.ExamID,
		Status:     model.SessionStatusGraded,
		TotalScore: sub.TotalScore,
		MaxScore:   sub.MaxScore,
		Passed:     sub.Passed,
		Results:    sub.Results,
	}, nil
}

type noCodeEvaluator struct{}

func (noCodeEvaluator) Evaluate(_ context.Context, _ string, cases []model.TestCase) judge.Evaluation {
	return judge.Evaluation{Total: len(cases)}
}

func newSessionService(t *testing.T) (*ExamSessionService, *memoryHistory) {
	t.Helper()
	exam := &model.Exam{
		ID: 1, Title: "Basics", TimeLimitMinutes: 10, TotalScore: 20, PassingScore: 10,
		Questions: []model.ExamQuestion{
			{Question: model.Question{ID: 10, Kind: model.KindChoice, Answer: "B"}, Score: 10, OrderNum: 1},
			{Question: model.Question{ID: 11, Kind: model.KindFill, Answer: "for"}, Score: 10, OrderNum: 2},
		},
	}
	history := &memoryHistory{}
	mgr := session.NewManager(session.Config{
		Grader:  grading.NewEngine(noCodeEvaluator{}, 1, zerolog.Nop()),
		Gateway: history,
	}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	papers := staticPapers{exams: map[int64]*model.Exam{1: exam}}
	return NewExamSessionService(mgr, papers, history, zerolog.Nop()), history
}

func TestSessionServiceFullAttempt(t *testing.T) {
	svc, _ := newSessionService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, 7, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.Status != model.SessionStatusInProgress || len(state.Paper.Questions) != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	id := state.SessionID

	if err := svc.RecordAnswer(7, id, 10, "b"); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if err := svc.RecordAnswer(8, id, 10, "b"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("another user must not see the session, got %v", err)
	}

	nav, err := svc.Navigate(7, id, NavigateNext)
	if err != nil || nav.Cursor != 1 {
		t.Fatalf("Navigate next: cursor %d, err %v", nav.Cursor, err)
	}
	if _, err := svc.Navigate(7, id, "sideways"); err == nil {
		t.Fatalf("expected an error for an unknown navigation")
	}
	if _, err := svc.Jump(7, id, 5); err == nil {
		t.Fatalf("expected an out of range jump to fail")
	}

	res, err := svc.Submit(ctx, 7, id)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TotalScore != 10 || !res.Passed || len(res.Results) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	// The session has left the registry; a repeated submit returns the stored result.
	again, err := svc.Submit(ctx, 7, id)
	if err != nil {
		t.Fatalf("repeated Submit: %v", err)
	}
	if again.TotalScore != res.TotalScore {
		t.Fatalf("repeated submit changed the score: %d != %d", again.TotalScore, res.TotalScore)
	}

	stored, err := svc.Result(ctx, 7, id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if stored.TotalScore != 10 {
		t.Fatalf("unexpected stored total %d", stored.TotalScore)
	}
}

func TestSessionServiceUnknownExam(t *testing.T) {
	svc, _ := newSessionService(t)
	if _, err := svc.Start(context.Background(), 7, 2); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

func TestSessionServiceResultNotReady(t *testing.T) {
	svc, _ := newSessionService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, 7, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Result(ctx, 7, state.SessionID); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound for a live session, got %v", err)
	}
	if _, err := svc.Result(ctx, 7, uuid.New()); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound for an unknown session, got %v", err)
	}
}

func TestSessionServiceExitLeavesNoHistory(t *testing.T) {
	svc, history := newSessionService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, 7, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Exit(7, state.SessionID); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	items, total, err := svc.History(ctx, 7, 1, 20)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("expected no history after exit, got %d", total)
	}
	if history.results != nil {
		t.Fatalf("exit must not persist anything")
	}
}

func TestSessionServiceHistoryPaging(t *testing.T) {
	svc, history := newSessionService(t)

	tests := []struct {
		page, perPage       int
		wantLimit, wantSkip int
	}{
		{page: 1, perPage: 20, wantLimit: 20, wantSkip: 0},
		{page: 3, perPage: 10, wantLimit: 10, wantSkip: 20},
		{page: 0, perPage: 0, wantLimit: 20, wantSkip: 0},
		{page: 2, perPage: 500, wantLimit: 20, wantSkip: 20},
	}
	for _, tt := range tests {
		if _, _, err := svc.History(context.Background(), 7, tt.page, tt.perPage); err != nil {
			t.Fatalf("History: %v", err)
		}
		if history.limit != tt.wantLimit || history.offset != tt.wantSkip {
			t.Fatalf("page %d/%d: got limit %d offset %d", tt.page, tt.perPage, history.limit, history.offset)
		}
	}
}
