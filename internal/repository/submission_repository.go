package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// SubmissionRepository persists graded sessions. Each submission is written in
// exactly one transaction on one pooled connection.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// CommitSubmission writes the session row, every grading result and every
// mistake signal, or nothing. Committing a session that is already GRADED is a no-op.
func (r *SubmissionRepository) CommitSubmission(ctx context.Context, sub model.Submission) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin submission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current model.SessionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM exam_sessions WHERE id = $1 FOR UPDATE`, sub.Session.ID,
	).Scan(&current)
	switch {
	case err == nil && current == model.SessionStatusGraded:
		return nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("lock session: %w", err)
	}

	if err := upsertSession(ctx, tx, sub); err != nil {
		return err
	}
	if err := upsertAnswers(ctx, tx, sub.Session.ID, sub.Results); err != nil {
		return err
	}
	if err := insertMistakeSignals(ctx, tx, sub.Mistakes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

func upsertSession(ctx context.Context, tx pgx.Tx, sub model.Submission) error {
	s := sub.Session
	finishedAt := time.Now()
	if s.FinishedAt != nil {
		finishedAt = *s.FinishedAt
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO exam_sessions (id, exam_id, user_id, started_at, deadline, finished_at,
		                            status, timed_out, time_spent_seconds, total_score, max_score, passed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET finished_at = EXCLUDED.finished_at,
		     status = EXCLUDED.status,
		     timed_out = EXCLUDED.timed_out,
		     time_spent_seconds = EXCLUDED.time_spent_seconds,
		     total_score = EXCLUDED.total_score,
		     max_score = EXCLUDED.max_score,
		     passed = EXCLUDED.passed`,
		s.ID, s.ExamID, s.UserID, s.StartedAt, s.Deadline, finishedAt,
		model.SessionStatusGraded, s.TimedOut, int64(sub.TimeSpent/time.Second),
		sub.TotalScore, sub.MaxScore, sub.Passed,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func upsertAnswers(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, results []model.GradingResult) error {
	if len(results) == 0 {
		return nil
	}
	n := len(results)
	questionIDs := make([]int64, n)
	orders := make([]int32, n)
	answers := make([]string, n)
	answered := make([]bool, n)
	correct := make([]bool, n)
	scores := make([]int32, n)
	maxScores := make([]int32, n)
	passed := make([]int32, n)
	totals := make([]int32, n)
	for i, r := range results {
		questionIDs[i] = r.QuestionID
		orders[i] = int32(i + 1)
		answers[i] = r.Answer
		answered[i] = r.Answered
		correct[i] = r.Correct
		scores[i] = int32(r.Score)
		maxScores[i] = int32(r.MaxScore)
		passed[i] = int32(r.TestsPassed)
		totals[i] = int32(r.TestsTotal)
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO exam_answers (session_id, question_id, order_num, user_answer, answered, is_correct,
		                           obtained_score, max_score, test_cases_passed, test_cases_total)
		 SELECT $1, u.question_id, u.order_num, u.user_answer, u.answered, u.is_correct,
		        u.obtained_score, u.max_score, u.test_cases_passed, u.test_cases_total
		 FROM UNNEST(
		     $2::bigint[], $3::int[], $4::text[], $5::bool[], $6::bool[],
		     $7::int[], $8::int[], $9::int[], $10::int[]
		 ) AS u (question_id, order_num, user_answer, answered, is_correct,
		         obtained_score, max_score, test_cases_passed, test_cases_total)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET user_answer = EXCLUDED.user_answer,
		     answered = EXCLUDED.answered,
		     is_correct = EXCLUDED.is_correct,
		     obtained_score = EXCLUDED.obtained_score,
		     max_score = EXCLUDED.max_score,
		     test_cases_passed = EXCLUDED.test_cases_passed,
		     test_cases_total = EXCLUDED.test_cases_total`,
		sessionID, questionIDs, orders, answers, answered, correct, scores, maxScores, passed, totals,
	)
	if err != nil {
		return fmt.Errorf("upsert answers: %w", err)
	}
	return nil
}

func insertMistakeSignals(ctx context.Context, tx pgx.Tx, signals []model.MistakeSignal) error {
	if len(signals) == 0 {
		return nil
	}
	n := len(signals)
	sessionIDs := make([]uuid.UUID, n)
	questionIDs := make([]int64, n)
	userIDs := make([]int64, n)
	sources := make([]string, n)
	createdAts := make([]time.Time, n)
	for i, m := range signals {
		sessionIDs[i] = m.SessionID
		questionIDs[i] = m.QuestionID
		userIDs[i] = m.UserID
		sources[i] = m.Source
		createdAts[i] = m.At
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO mistake_signals (session_id, question_id, user_id, source, created_at)
		 SELECT * FROM UNNEST($1::uuid[], $2::bigint[], $3::bigint[], $4::text[], $5::timestamptz[])
		 ON CONFLICT (session_id, question_id) DO NOTHING`,
		sessionIDs, questionIDs, userIDs, sources, createdAts,
	)
	if err != nil {
		return fmt.Errorf("insert mistake signals: %w", err)
	}
	return nil
}
