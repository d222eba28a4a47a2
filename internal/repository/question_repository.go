package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// QuestionRepository handles question and test case data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves an exam's questions with their assigned scores,
// ordered by order_num then id so the order is stable.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID int64) ([]model.ExamQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.kind, q.category, q.prompt, q.answer, q.options, q.explanation,
		        eq.score, eq.order_num
		 FROM exam_questions eq
		 JOIN questions q ON q.id = eq.question_id
		 WHERE eq.exam_id = $1
		 ORDER BY eq.order_num, q.id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.ExamQuestion
	for rows.Next() {
		var eq model.ExamQuestion
		var kind string
		if err := rows.Scan(&eq.Question.ID, &kind, &eq.Question.Category, &eq.Question.Prompt,
			&eq.Question.Answer, &eq.Question.Options, &eq.Question.Explanation,
			&eq.Score, &eq.OrderNum); err != nil {
			return nil, err
		}
		// Unknown kinds are kept as the zero kind and grade as incorrect.
		eq.Question.Kind, _ = model.ParseQuestionKind(kind)
		questions = append(questions, eq)
	}
	return questions, rows.Err()
}

// GetByID retrieves one question.
func (r *QuestionRepository) GetByID(ctx context.Context, id int64) (*model.Question, error) {
	q := &model.Question{}
	var kind string
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, category, prompt, answer, options, explanation
		 FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &kind, &q.Category, &q.Prompt, &q.Answer, &q.Options, &q.Explanation)
	if err != nil {
		return nil, err
	}
	q.Kind, _ = model.ParseQuestionKind(kind)
	return q, nil
}

// ListTestCases returns the test cases of the given questions, keyed by question id,
// each list ordered by order_num then id.
func (r *QuestionRepository) ListTestCases(ctx context.Context, questionIDs []int64) (map[int64][]model.TestCase, error) {
	out := make(map[int64][]model.TestCase, len(questionIDs))
	if len(questionIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_id, input_data, expected_output, score, is_sample, order_num
		 FROM test_cases
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, order_num, id`, questionIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.QuestionID, &tc.Input, &tc.ExpectedOutput,
			&tc.Score, &tc.IsSample, &tc.OrderNum); err != nil {
			return nil, err
		}
		out[tc.QuestionID] = append(out[tc.QuestionID], tc)
	}
	return out, rows.Err()
}
