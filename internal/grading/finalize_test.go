package grading

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/model"
)

func sampleExam() *model.Exam {
	return &model.Exam{
		ID:               7,
		Title:            "Basics",
		TimeLimitMinutes: 30,
		PassingScore:     20,
		Questions: []model.ExamQuestion{
			question(1, model.KindChoice, "B", 10),
			question(2, model.KindFill, "len", 5),
			codeQuestion(3, 15, 5, 5, 5),
			question(4, model.KindJudge, "true", 5),
		},
	}
}

func TestFinalizeUnanswered(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 3}, 1, zerolog.Nop())
	exam := &model.Exam{
		PassingScore: 1,
		Questions: []model.ExamQuestion{
			question(1, model.KindChoice, "A", 10),
			question(2, model.KindFill, "x", 20),
		},
	}

	out := e.Finalize(context.Background(), exam, model.Answers{})
	if out.TotalScore != 0 || out.Passed {
		t.Fatalf("expected zero total and failed, got %+v", out)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected one result per question, got %d", len(out.Results))
	}
	for _, r := range out.Results {
		if r.Correct {
			t.Fatalf("unanswered question graded correct: %+v", r)
		}
	}
	if !reflect.DeepEqual(out.Mistakes, []int64{1, 2}) {
		t.Fatalf("expected mistakes for both questions, got %v", out.Mistakes)
	}
}

func TestFinalizeSumAndOrder(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 2}, 1, zerolog.Nop())
	answers := model.Answers{1: "b", 2: "LEN", 3: "code", 4: "True"}

	out := e.Finalize(context.Background(), sampleExam(), answers)

	sum := 0
	for i, r := range out.Results {
		sum += r.Score
		if r.QuestionID != int64(i+1) {
			t.Fatalf("results out of exam order: %v", out.Results)
		}
	}
	if out.TotalScore != sum {
		t.Fatalf("total %d != sum of results %d", out.TotalScore, sum)
	}
	// 10 choice + 0 fill + 10 code + 5 judge
	if out.TotalScore != 25 || !out.Passed {
		t.Fatalf("expected 25 and passed, got %d passed=%v", out.TotalScore, out.Passed)
	}
	if out.MaxScore != 35 {
		t.Fatalf("expected max score 35, got %d", out.MaxScore)
	}
	if !reflect.DeepEqual(out.Mistakes, []int64{2}) {
		t.Fatalf("expected only the fill question as a mistake, got %v", out.Mistakes)
	}
}

func TestFinalizeBlankAnswerIsUnanswered(t *testing.T) {
	ev := &fixedEvaluator{passFirst: 3}
	e := NewEngine(ev, 1, zerolog.Nop())

	out := e.Finalize(context.Background(), sampleExam(), model.Answers{3: "   "})
	if out.Results[2].Answered || out.Results[2].Score != 0 {
		t.Fatalf("blank code answer should be unanswered, got %+v", out.Results[2])
	}
	if ev.calls.Load() != 0 {
		t.Fatalf("blank answers must not reach the evaluator")
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 1}, 1, zerolog.Nop())
	exam := sampleExam()
	answers := model.Answers{1: "A", 3: "code", 4: "false"}

	first := e.Finalize(context.Background(), exam, answers)
	second := e.Finalize(context.Background(), exam, answers)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("finalize not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestFinalizeParallelMatchesSequential(t *testing.T) {
	answers := model.Answers{1: "b", 2: "len", 3: "code", 4: "false"}

	seq := NewEngine(&fixedEvaluator{passFirst: 2}, 1, zerolog.Nop()).Finalize(context.Background(), sampleExam(), answers)
	par := NewEngine(&fixedEvaluator{passFirst: 2}, 4, zerolog.Nop()).Finalize(context.Background(), sampleExam(), answers)
	if !reflect.DeepEqual(seq, par) {
		t.Fatalf("parallel outcome differs:\n%+v\n%+v", seq, par)
	}
}

func TestOutcomeSignals(t *testing.T) {
	out := Outcome{Mistakes: []int64{4, 9}}
	sid := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	signals := out.Signals(11, sid, at)
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	for i, s := range signals {
		if s.UserID != 11 || s.SessionID != sid || s.Source != MistakeSourceExam || !s.At.Equal(at) {
			t.Fatalf("unexpected signal %+v", s)
		}
		if s.QuestionID != out.Mistakes[i] {
			t.Fatalf("signal %d has question %d", i, s.QuestionID)
		}
	}
}
