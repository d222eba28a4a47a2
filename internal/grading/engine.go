// Package grading scores answers per question kind and aggregates a finished paper.
package grading

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/judge"
	"github.com/stemsi/exstem-grader/internal/model"
)

// CodeEvaluator is the slice of judge.Evaluator the engine depends on.
type CodeEvaluator interface {
	Evaluate(ctx context.Context, code string, cases []model.TestCase) judge.Evaluation
}

// Engine grades individual answers. It is stateless and safe for concurrent use.
type Engine struct {
	evaluator CodeEvaluator
	workers   int
	log       zerolog.Logger
}

// NewEngine creates an engine. workers bounds how many questions Finalize
// grades at once; values below 1 mean sequential.
func NewEngine(evaluator CodeEvaluator, workers int, log zerolog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		evaluator: evaluator,
		workers:   workers,
		log:       log.With().Str("component", "grading").Logger(),
	}
}

// Grade scores one answer against its exam question.
// The returned score is always within [0, eq.Score].
func (e *Engine) Grade(ctx context.Context, eq model.ExamQuestion, answer string, answered bool) model.GradingResult {
	res := model.GradingResult{
		QuestionID: eq.Question.ID,
		Answer:     answer,
		Answered:   answered,
		MaxScore:   eq.Score,
	}
	if !answered {
		if eq.Question.Kind == model.KindCode {
			res.TestsTotal = len(eq.TestCases)
		}
		return res
	}

	switch eq.Question.Kind {
	case model.KindChoice, model.KindJudge:
		res.Correct = normalizeOption(answer) == normalizeOption(eq.Question.Answer)
	case model.KindFill:
		res.Correct = strings.TrimSpace(answer) == strings.TrimSpace(eq.Question.Answer)
	case model.KindCode:
		e.gradeCode(ctx, eq, answer, &res)
		return res
	default:
		e.log.Warn().
			Int64("question_id", eq.Question.ID).
			Str("kind", eq.Question.Kind.String()).
			Msg("Unknown question kind, grading as incorrect")
		return res
	}

	if res.Correct {
		res.Score = eq.Score
	}
	return res
}

func (e *Engine) gradeCode(ctx context.Context, eq model.ExamQuestion, code string, res *model.GradingResult) {
	if len(eq.TestCases) == 0 {
		res.Correct = strings.TrimSpace(code) == strings.TrimSpace(eq.Question.Answer)
		if res.Correct {
			res.Score = eq.Score
		}
		return
	}

	ev := e.evaluator.Evaluate(ctx, code, eq.TestCases)
	res.TestsPassed = ev.Passed
	res.TestsTotal = ev.Total
	res.Score = clampScore(ev.Score, eq.Score)
	// Any earned case makes it correct, even when the clamp leaves no points.
	res.Correct = ev.Score > 0
}

func normalizeOption(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

func clampScore(score, limit int) int {
	return max(0, min(score, limit))
}
