package grading

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/model"
)

// MistakeSourceExam tags mistakes recorded from a graded exam.
const MistakeSourceExam = "exam"

// Outcome is the graded paper.
type Outcome struct {
	Results    []model.GradingResult
	TotalScore int
	MaxScore   int
	Passed     bool
	// Mistakes holds the ids of incorrectly answered questions, in exam order.
	Mistakes []int64
}

// Signals turns the mistake ids into sink signals for one user and session.
func (o Outcome) Signals(userID int64, sessionID uuid.UUID, at time.Time) []model.MistakeSignal {
	signals := make([]model.MistakeSignal, 0, len(o.Mistakes))
	for _, qid := range o.Mistakes {
		signals = append(signals, model.MistakeSignal{
			UserID:     userID,
			QuestionID: qid,
			SessionID:  sessionID,
			Source:     MistakeSourceExam,
			At:         at,
		})
	}
	return signals
}

// Finalize grades every question of the exam in order and aggregates the result.
// An answer that is missing or blank counts as unanswered.
func (e *Engine) Finalize(ctx context.Context, exam *model.Exam, answers model.Answers) Outcome {
	results := make([]model.GradingResult, len(exam.Questions))

	grade := func(i int) {
		eq := exam.Questions[i]
		answer, ok := answers[eq.Question.ID]
		answered := ok && strings.TrimSpace(answer) != ""
		results[i] = e.Grade(ctx, eq, answer, answered)
	}

	if e.workers == 1 || len(exam.Questions) < 2 {
		for i := range exam.Questions {
			grade(i)
		}
	} else {
		sem := make(chan struct{}, e.workers)
		var wg sync.WaitGroup
		for i := range exam.Questions {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				grade(i)
			}(i)
		}
		wg.Wait()
	}

	out := Outcome{Results: results}
	for i, r := range results {
		out.TotalScore += r.Score
		out.MaxScore += exam.Questions[i].Score
		if !r.Correct {
			out.Mistakes = append(out.Mistakes, r.QuestionID)
		}
	}
	out.Passed = out.TotalScore >= exam.PassingScore

	e.log.Info().
		Int64("exam_id", exam.ID).
		Int("total_score", out.TotalScore).
		Int("max_score", out.MaxScore).
		Bool("passed", out.Passed).
		Int("mistakes", len(out.Mistakes)).
		Msg("Paper graded")
	return out
}
