package grading

import (
	"context"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/judge"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/sandbox"
)

// fixedEvaluator passes the first n cases of every evaluation.
type fixedEvaluator struct {
	passFirst int
	calls     atomic.Int32
}

func (f *fixedEvaluator) Evaluate(_ context.Context, _ string, cases []model.TestCase) judge.Evaluation {
	f.calls.Add(1)
	ev := judge.Evaluation{Total: len(cases)}
	for i, tc := range cases {
		if i < f.passFirst {
			ev.Passed++
			ev.Score += tc.Score
		}
	}
	return ev
}

func question(id int64, kind model.QuestionKind, answer string, score int) model.ExamQuestion {
	return model.ExamQuestion{
		Question: model.Question{ID: id, Kind: kind, Prompt: "q", Answer: answer},
		Score:    score,
		OrderNum: int(id),
	}
}

func codeQuestion(id int64, score int, caseScores ...int) model.ExamQuestion {
	eq := question(id, model.KindCode, "", score)
	for i, s := range caseScores {
		eq.TestCases = append(eq.TestCases, model.TestCase{
			ID: int64(i + 1), QuestionID: id, Input: "in", ExpectedOutput: "out", Score: s, OrderNum: i + 1,
		})
	}
	return eq
}

func TestGradeChoiceIsCaseInsensitive(t *testing.T) {
	e := NewEngine(&fixedEvaluator{}, 1, zerolog.Nop())

	res := e.Grade(context.Background(), question(1, model.KindChoice, "B", 5), " b ", true)
	if !res.Correct || res.Score != 5 {
		t.Fatalf("expected full credit, got %+v", res)
	}
}

func TestGradeJudge(t *testing.T) {
	e := NewEngine(&fixedEvaluator{}, 1, zerolog.Nop())

	tests := []struct {
		answer string
		want   bool
	}{
		{"true", true},
		{" TRUE", true},
		{"false", false},
	}
	for _, tt := range tests {
		res := e.Grade(context.Background(), question(1, model.KindJudge, "True", 2), tt.answer, true)
		if res.Correct != tt.want {
			t.Errorf("answer %q: expected correct=%v, got %+v", tt.answer, tt.want, res)
		}
	}
}

func TestGradeFillIsCaseSensitive(t *testing.T) {
	e := NewEngine(&fixedEvaluator{}, 1, zerolog.Nop())

	res := e.Grade(context.Background(), question(1, model.KindFill, "lower()", 5), "Lower()", true)
	if res.Correct || res.Score != 0 {
		t.Fatalf("expected incorrect, got %+v", res)
	}
	res = e.Grade(context.Background(), question(1, model.KindFill, "lower()", 5), "  lower()\n", true)
	if !res.Correct || res.Score != 5 {
		t.Fatalf("expected trimmed match to pass, got %+v", res)
	}
}

func TestGradeCodePartialCredit(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 2}, 1, zerolog.Nop())

	res := e.Grade(context.Background(), codeQuestion(1, 15, 5, 5, 5), "print(1)", true)
	if res.Score != 10 || !res.Correct {
		t.Fatalf("expected 10 points and correct, got %+v", res)
	}
	if res.TestsPassed != 2 || res.TestsTotal != 3 {
		t.Fatalf("expected 2/3 tests, got %d/%d", res.TestsPassed, res.TestsTotal)
	}
}

func TestGradeCodeClampsToAssignedScore(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 3}, 1, zerolog.Nop())

	res := e.Grade(context.Background(), codeQuestion(1, 10, 10, 10, 10), "x", true)
	if res.Score != 10 {
		t.Fatalf("expected score clamped to 10, got %d", res.Score)
	}
}

func TestGradeCodeCorrectFollowsEarnedCases(t *testing.T) {
	tests := []struct {
		name        string
		passFirst   int
		assigned    int
		wantScore   int
		wantCorrect bool
	}{
		{"zero assigned score still correct", 2, 0, 0, true},
		{"nothing passed", 0, 10, 0, false},
		{"clamped but correct", 3, 4, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&fixedEvaluator{passFirst: tt.passFirst}, 1, zerolog.Nop())
			res := e.Grade(context.Background(), codeQuestion(1, tt.assigned, 5, 5, 5), "x", true)
			if res.Score != tt.wantScore || res.Correct != tt.wantCorrect {
				t.Fatalf("got score=%d correct=%v, want %d %v", res.Score, res.Correct, tt.wantScore, tt.wantCorrect)
			}
		})
	}
}

func TestGradeCodeWithoutCasesComparesDirectly(t *testing.T) {
	ev := &fixedEvaluator{}
	e := NewEngine(ev, 1, zerolog.Nop())
	eq := question(1, model.KindCode, "print('hi')", 8)

	if res := e.Grade(context.Background(), eq, " print('hi')\n", true); !res.Correct || res.Score != 8 {
		t.Fatalf("expected match, got %+v", res)
	}
	if res := e.Grade(context.Background(), eq, "print('ho')", true); res.Correct || res.Score != 0 {
		t.Fatalf("expected mismatch, got %+v", res)
	}
	if ev.calls.Load() != 0 {
		t.Fatalf("evaluator must not run without test cases")
	}
}

func TestGradeUnansweredSkipsSandbox(t *testing.T) {
	ev := &fixedEvaluator{passFirst: 3}
	e := NewEngine(ev, 1, zerolog.Nop())

	res := e.Grade(context.Background(), codeQuestion(1, 10, 5, 5), "", false)
	if res.Correct || res.Score != 0 || res.Answered {
		t.Fatalf("expected unanswered result, got %+v", res)
	}
	if ev.calls.Load() != 0 {
		t.Fatalf("evaluator must not run for unanswered questions")
	}
}

func TestGradeUnknownKindIsIncorrect(t *testing.T) {
	e := NewEngine(&fixedEvaluator{}, 1, zerolog.Nop())

	res := e.Grade(context.Background(), question(1, model.QuestionKind(42), "A", 5), "A", true)
	if res.Correct || res.Score != 0 {
		t.Fatalf("expected incorrect, got %+v", res)
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 1}, 1, zerolog.Nop())
	qs := []model.ExamQuestion{
		question(1, model.KindChoice, "A", 5),
		question(2, model.KindFill, "x", 5),
		codeQuestion(3, 10, 4, 6),
	}
	for _, eq := range qs {
		first := e.Grade(context.Background(), eq, "A", true)
		second := e.Grade(context.Background(), eq, "A", true)
		if first != second {
			t.Fatalf("question %d: %+v != %+v", eq.Question.ID, first, second)
		}
	}
}

func TestGradeScoreBound(t *testing.T) {
	e := NewEngine(&fixedEvaluator{passFirst: 5}, 1, zerolog.Nop())
	qs := []model.ExamQuestion{
		question(1, model.KindChoice, "A", 5),
		question(2, model.KindJudge, "false", 3),
		question(3, model.KindFill, "x", 7),
		codeQuestion(4, 10, 50, 50),
		codeQuestion(5, 0, 5),
	}
	for _, eq := range qs {
		for _, answer := range []string{"A", "false", "x", "", "zzz"} {
			res := e.Grade(context.Background(), eq, answer, answer != "")
			if res.Score < 0 || res.Score > eq.Score {
				t.Fatalf("question %d answer %q: score %d out of [0, %d]", eq.Question.ID, answer, res.Score, eq.Score)
			}
		}
	}
}

func TestGradeTimeoutContainment(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	sb, err := sandbox.NewProcessSandbox(sandbox.ShellRuntime(), sandbox.Options{TempDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	const perCase = 200 * time.Millisecond
	e := NewEngine(judge.NewEvaluator(sb, perCase, zerolog.Nop()), 1, zerolog.Nop())

	start := time.Now()
	res := e.Grade(context.Background(), codeQuestion(1, 15, 5, 5, 5), "while :; do :; done\n", true)
	elapsed := time.Since(start)

	if res.Score != 0 || res.Correct {
		t.Fatalf("expected zero score, got %+v", res)
	}
	if limit := 3*perCase + 2*time.Second; elapsed > limit {
		t.Fatalf("grading took %s, limit %s", elapsed, limit)
	}
	if !strings.Contains(res.Answer, "while") {
		t.Fatalf("answer should be kept on the result")
	}
}
