package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// MistakeRepository maintains the per-user wrong question book.
type MistakeRepository struct {
	pool *pgxpool.Pool
}

// NewMistakeRepository creates a new MistakeRepository.
func NewMistakeRepository(pool *pgxpool.Pool) *MistakeRepository {
	return &MistakeRepository{pool: pool}
}

// MistakeOccurrence is one wrong answer waiting to be counted.
type MistakeOccurrence struct {
	UserID     int64
	QuestionID int64
	Source     string
	At         time.Time
}

// BulkUpsert counts a batch of occurrences. A question answered wrong again
// bumps wrong_count and is no longer considered mastered.
func (r *MistakeRepository) BulkUpsert(ctx context.Context, batch []MistakeOccurrence) error {
	n := len(batch)
	if n == 0 {
		return nil
	}
	userIDs := make([]int64, n)
	questionIDs := make([]int64, n)
	sources := make([]string, n)
	ats := make([]time.Time, n)
	for i, m := range batch {
		userIDs[i] = m.UserID
		questionIDs[i] = m.QuestionID
		sources[i] = m.Source
		ats[i] = m.At
	}

	// Duplicates inside one batch are collapsed first; ON CONFLICT cannot touch a row twice.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wrong_questions AS w (user_id, question_id, wrong_count, source, first_wrong_at, last_wrong_at)
		 SELECT t.user_id, t.question_id, COUNT(*), MIN(t.source), MIN(t.at), MAX(t.at)
		 FROM UNNEST($1::bigint[], $2::bigint[], $3::text[], $4::timestamptz[])
		      AS t (user_id, question_id, source, at)
		 GROUP BY t.user_id, t.question_id
		 ON CONFLICT (user_id, question_id) DO UPDATE
		 SET wrong_count = w.wrong_count + EXCLUDED.wrong_count,
		     last_wrong_at = GREATEST(w.last_wrong_at, EXCLUDED.last_wrong_at),
		     mastered = FALSE`,
		userIDs, questionIDs, sources, ats,
	)
	return err
}

// Upsert counts a single occurrence.
func (r *MistakeRepository) Upsert(ctx context.Context, m MistakeOccurrence) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wrong_questions AS w (user_id, question_id, source, first_wrong_at, last_wrong_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id, question_id) DO UPDATE
		 SET wrong_count = w.wrong_count + 1,
		     last_wrong_at = GREATEST(w.last_wrong_at, EXCLUDED.last_wrong_at),
		     mastered = FALSE`,
		m.UserID, m.QuestionID, m.Source, m.At,
	)
	return err
}

// ListByUser returns the user's mistake book, most recent first.
func (r *MistakeRepository) ListByUser(ctx context.Context, userID int64, includeMastered bool) ([]model.Mistake, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT w.question_id, q.kind, q.prompt, w.wrong_count, w.mastered, w.source,
		        w.first_wrong_at, w.last_wrong_at
		 FROM wrong_questions w
		 JOIN questions q ON q.id = w.question_id
		 WHERE w.user_id = $1 AND ($2 OR NOT w.mastered)
		 ORDER BY w.last_wrong_at DESC, w.question_id`, userID, includeMastered,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mistakes []model.Mistake
	for rows.Next() {
		var m model.Mistake
		var kind string
		if err := rows.Scan(&m.QuestionID, &kind, &m.Prompt, &m.WrongCount, &m.Mastered, &m.Source,
			&m.FirstWrongAt, &m.LastWrongAt); err != nil {
			return nil, err
		}
		m.Kind, _ = model.ParseQuestionKind(kind)
		mistakes = append(mistakes, m)
	}
	return mistakes, rows.Err()
}

// MarkMastered flags a mistake as mastered. It reports whether the entry existed.
func (r *MistakeRepository) MarkMastered(ctx context.Context, userID, questionID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE wrong_questions SET mastered = TRUE WHERE user_id = $1 AND question_id = $2`,
		userID, questionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
