package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/judge"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/sandbox"
)

var (
	ErrNotCodeQuestion    = errors.New("question is not a code question")
	ErrSandboxUnavailable = errors.New("code execution is unavailable")
)

// QuestionLoader supplies one question with its test cases.
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID int64) (*model.Question, []model.TestCase, error)
}

// SampleRunner runs code against visible test cases.
type SampleRunner interface {
	RunSamples(ctx context.Context, code string, cases []model.TestCase) []judge.CaseReport
}

// CodeService backs the editor: free runs with stdin and sample-case checks.
type CodeService struct {
	sandbox    sandbox.Sandbox
	samples    SampleRunner
	questions  QuestionLoader
	runTimeout time.Duration
	log        zerolog.Logger
}

// NewCodeService creates a new CodeService. sb may be nil when no runtime is
// installed; every call then fails with ErrSandboxUnavailable.
func NewCodeService(sb sandbox.Sandbox, samples SampleRunner, questions QuestionLoader, runTimeout time.Duration, log zerolog.Logger) *CodeService {
	return &CodeService{
		sandbox:    sb,
		samples:    samples,
		questions:  questions,
		runTimeout: runTimeout,
		log:        log.With().Str("component", "code_service").Logger(),
	}
}

// Run executes code once with stdin.
func (s *CodeService) Run(ctx context.Context, userID int64, code, stdin string) (sandbox.Outcome, error) {
	if s.sandbox == nil {
		return sandbox.Outcome{}, ErrSandboxUnavailable
	}
	out := s.sandbox.Run(ctx, sandbox.Request{Code: code, Stdin: stdin, Timeout: s.runTimeout})
	s.log.Debug().
		Int64("user_id", userID).
		Str("status", string(out.Status)).
		Dur("duration", out.Duration).
		Msg("Editor run finished")
	return out, nil
}

// RunSamples checks code against the sample cases of a code question.
// Hidden cases are never run or returned.
func (s *CodeService) RunSamples(ctx context.Context, userID, questionID int64, code string) ([]judge.CaseReport, error) {
	if s.sandbox == nil || s.samples == nil {
		return nil, ErrSandboxUnavailable
	}
	q, cases, err := s.questions.LoadQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.Kind != model.KindCode {
		return nil, ErrNotCodeQuestion
	}

	reports := s.samples.RunSamples(ctx, code, cases)
	if reports == nil {
		reports = []judge.CaseReport{}
	}
	passed := 0
	for _, r := range reports {
		if r.Passed {
			passed++
		}
	}
	s.log.Debug().
		Int64("user_id", userID).
		Int64("question_id", questionID).
		Int("passed", passed).
		Int("samples", len(reports)).
		Msg("Sample run finished")
	return reports, nil
}
