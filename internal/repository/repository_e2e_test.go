//go:build e2e
// +build e2e

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/model"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := database.NewPostgresPool(context.Background(), cfg, zerolog.New(os.Stderr))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func importFixture(t *testing.T, pool *pgxpool.Pool) *model.Exam {
	t.Helper()
	ctx := context.Background()
	exams := NewExamRepository(pool)
	id, err := exams.Import(ctx, &model.ExamImport{
		Title:            "Repository fixture",
		TimeLimitMinutes: 10,
		PassingScore:     5,
		Questions: []model.ExamQuestionImport{
			{Kind: "fill", Prompt: "first", Answer: "a", Score: 5},
			{Kind: "code", Prompt: "second", Score: 10, TestCases: []model.TestCaseImport{
				{Input: "1", ExpectedOutput: "1", Score: 4, IsSample: true},
				{Input: "2", ExpectedOutput: "2", Score: 6},
			}},
		},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	exam, err := exams.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	questions, err := NewQuestionRepository(pool).ListByExam(ctx, id)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	exam.Questions = questions
	return exam
}

func TestImportKeepsOrderAndTestCases(t *testing.T) {
	pool := newPool(t)
	exam := importFixture(t, pool)

	if len(exam.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(exam.Questions))
	}
	if exam.Questions[0].Question.Prompt != "first" || exam.Questions[1].Question.Prompt != "second" {
		t.Fatalf("unexpected order: %+v", exam.Questions)
	}

	codeID := exam.Questions[1].Question.ID
	cases, err := NewQuestionRepository(pool).ListTestCases(context.Background(), []int64{codeID})
	if err != nil {
		t.Fatalf("list test cases: %v", err)
	}
	got := cases[codeID]
	if len(got) != 2 || !got[0].IsSample || got[1].Score != 6 {
		t.Fatalf("unexpected test cases: %+v", got)
	}
}

func TestCommitSubmissionIsIdempotent(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	exam := importFixture(t, pool)
	fillID := exam.Questions[0].Question.ID
	codeID := exam.Questions[1].Question.ID

	userID := time.Now().UnixNano() % 1_000_000
	now := time.Now().UTC().Truncate(time.Second)
	sessionID := uuid.New()
	sub := model.Submission{
		Session: model.ExamSession{
			ID:         sessionID,
			ExamID:     exam.ID,
			UserID:     userID,
			StartedAt:  now.Add(-time.Minute),
			Deadline:   now.Add(9 * time.Minute),
			FinishedAt: &now,
			Status:     model.SessionStatusGraded,
		},
		Results: []model.GradingResult{
			{QuestionID: fillID, Answer: "b", Answered: true, MaxScore: 5},
			{QuestionID: codeID, Answer: "print(input())", Answered: true, Correct: true, Score: 10, MaxScore: 10, TestsPassed: 2, TestsTotal: 2},
		},
		TotalScore: 10,
		MaxScore:   15,
		Passed:     true,
		TimeSpent:  time.Minute,
		Mistakes: []model.MistakeSignal{
			{UserID: userID, QuestionID: fillID, SessionID: sessionID, Source: "exam", At: now},
		},
	}

	repo := NewSubmissionRepository(pool)
	if err := repo.CommitSubmission(ctx, sub); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// A second commit of the same session must not change what was stored.
	again := sub
	again.TotalScore = 0
	again.Passed = false
	if err := repo.CommitSubmission(ctx, again); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	sessions := NewExamSessionRepository(pool)
	res, err := sessions.GetResult(ctx, sessionID, userID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if res.TotalScore != 10 || !res.Passed || res.MaxScore != 15 {
		t.Fatalf("stored result changed: %+v", res)
	}
	if len(res.Results) != 2 || res.Results[0].QuestionID != fillID || res.Results[1].TestsPassed != 2 {
		t.Fatalf("unexpected per-question results: %+v", res.Results)
	}

	if _, err := sessions.GetResult(ctx, sessionID, userID+1); err == nil {
		t.Fatal("expected another user's lookup to fail")
	}

	var signals int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM mistake_signals WHERE session_id = $1`, sessionID).Scan(&signals); err != nil {
		t.Fatalf("count signals: %v", err)
	}
	if signals != 1 {
		t.Fatalf("expected 1 mistake signal, got %d", signals)
	}

	items, total, err := sessions.ListByUser(ctx, userID, 10, 0)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ExamTitle != exam.Title {
		t.Fatalf("unexpected history: total=%d items=%+v", total, items)
	}
}

func TestMistakeUpsert(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	exam := importFixture(t, pool)
	qid := exam.Questions[0].Question.ID
	userID := time.Now().UnixNano()%1_000_000 + 1_000_000
	repo := NewMistakeRepository(pool)

	now := time.Now().UTC()
	batch := []MistakeOccurrence{
		{UserID: userID, QuestionID: qid, Source: "exam", At: now.Add(-time.Hour)},
		{UserID: userID, QuestionID: qid, Source: "exam", At: now},
	}
	if err := repo.BulkUpsert(ctx, batch); err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}

	ok, err := repo.MarkMastered(ctx, userID, qid)
	if err != nil || !ok {
		t.Fatalf("mark mastered: ok=%v err=%v", ok, err)
	}
	active, err := repo.ListByUser(ctx, userID, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("mastered entry still listed: %+v", active)
	}

	// Getting it wrong again revives the entry.
	if err := repo.Upsert(ctx, MistakeOccurrence{UserID: userID, QuestionID: qid, Source: "exam", At: now.Add(time.Minute)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	active, err = repo.ListByUser(ctx, userID, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].WrongCount != 3 || active[0].Mastered {
		t.Fatalf("unexpected mistake book: %+v", active)
	}
	if active[0].Kind != model.KindFill {
		t.Fatalf("expected fill kind, got %v", active[0].Kind)
	}

	ok, err = repo.MarkMastered(ctx, userID, qid+1_000_000)
	if err != nil || ok {
		t.Fatalf("expected unknown entry to report false, got ok=%v err=%v", ok, err)
	}
}
