package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `e.id, e.title, e.description, e.category, e.difficulty,
	e.time_limit_minutes, e.total_score, e.passing_score, e.created_at,
	(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id)`

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.Difficulty,
		&e.TimeLimitMinutes, &e.TotalScore, &e.PassingScore, &e.CreatedAt, &e.QuestionCount)
}

// GetByID retrieves an exam header (without questions).
func (r *ExamRepository) GetByID(ctx context.Context, id int64) (*model.Exam, error) {
	e := &model.Exam{}
	row := r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id)
	if err := scanExam(row, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns every exam, newest first.
func (r *ExamRepository) List(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+examColumns+` FROM exams e ORDER BY e.created_at DESC, e.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// Import inserts an exam with its questions and test cases in one transaction.
// The exam total is the sum of the question scores.
func (r *ExamRepository) Import(ctx context.Context, imp *model.ExamImport) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	total := 0
	for _, q := range imp.Questions {
		total += q.Score
	}
	passing := imp.PassingScore
	if passing == 0 {
		passing = total * 60 / 100
	}
	difficulty := imp.Difficulty
	if difficulty == "" {
		difficulty = "medium"
	}

	var examID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO exams (title, description, category, difficulty, time_limit_minutes, total_score, passing_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		imp.Title, imp.Description, imp.Category, difficulty, imp.TimeLimitMinutes, total, passing,
	).Scan(&examID)
	if err != nil {
		return 0, fmt.Errorf("insert exam: %w", err)
	}

	for i, q := range imp.Questions {
		options := q.Options
		if options == nil {
			options = []string{}
		}
		var questionID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO questions (kind, category, prompt, answer, options, explanation)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			q.Kind, q.Category, q.Prompt, q.Answer, options, q.Explanation,
		).Scan(&questionID)
		if err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i+1, err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO exam_questions (exam_id, question_id, score, order_num) VALUES ($1, $2, $3, $4)`,
			examID, questionID, q.Score, i+1,
		); err != nil {
			return 0, fmt.Errorf("link question %d: %w", i+1, err)
		}

		for j, tc := range q.TestCases {
			if _, err := tx.Exec(ctx,
				`INSERT INTO test_cases (question_id, input_data, expected_output, score, is_sample, order_num)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				questionID, tc.Input, tc.ExpectedOutput, tc.Score, tc.IsSample, j+1,
			); err != nil {
				return 0, fmt.Errorf("insert test case %d of question %d: %w", j+1, i+1, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return examID, nil
}
