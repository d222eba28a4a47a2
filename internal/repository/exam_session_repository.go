package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ExamSessionRepository reads persisted sessions.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// ListByUser returns a page of the user's graded sessions, newest first, and the total count.
func (r *ExamSessionRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.SessionHistoryItem, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.exam_id, e.title, s.started_at, s.finished_at, s.status, s.timed_out,
		        s.total_score, s.max_score, s.passed, s.time_spent_seconds
		 FROM exam_sessions s
		 JOIN exams e ON e.id = s.exam_id
		 WHERE s.user_id = $1
		 ORDER BY s.started_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []model.SessionHistoryItem
	for rows.Next() {
		var it model.SessionHistoryItem
		if err := rows.Scan(&it.SessionID, &it.ExamID, &it.ExamTitle, &it.StartedAt, &it.FinishedAt,
			&it.Status, &it.TimedOut, &it.TotalScore, &it.MaxScore, &it.Passed, &it.TimeSpentSeconds); err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// GetResult returns a graded session with its per-question results. The
// session must belong to userID; otherwise pgx.ErrNoRows is returned.
func (r *ExamSessionRepository) GetResult(ctx context.Context, sessionID uuid.UUID, userID int64) (*model.SubmissionResult, error) {
	res := &model.SubmissionResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, status, timed_out, total_score, max_score, passed, time_spent_seconds
		 FROM exam_sessions
		 WHERE id = $1 AND user_id = $2`, sessionID, userID,
	).Scan(&res.SessionID, &res.ExamID, &res.Status, &res.TimedOut, &res.TotalScore,
		&res.MaxScore, &res.Passed, &res.TimeSpentSeconds)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, user_answer, answered, is_correct, obtained_score, max_score,
		        test_cases_passed, test_cases_total
		 FROM exam_answers
		 WHERE session_id = $1
		 ORDER BY order_num`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var g model.GradingResult
		if err := rows.Scan(&g.QuestionID, &g.Answer, &g.Answered, &g.Correct, &g.Score,
			&g.MaxScore, &g.TestsPassed, &g.TestsTotal); err != nil {
			return nil, err
		}
		res.Results = append(res.Results, g)
	}
	return res, rows.Err()
}
