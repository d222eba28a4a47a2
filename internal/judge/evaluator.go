// Package judge checks a code answer against a question's stdin/stdout test cases.
package judge

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/sandbox"
)

// Evaluation is the aggregate outcome of running every test case.
type Evaluation struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
	Score  int `json:"score"`
}

// CaseReport is the per-case detail returned for sample cases only.
type CaseReport struct {
	TestCaseID     int64          `json:"test_case_id"`
	Input          string         `json:"input"`
	ExpectedOutput string         `json:"expected_output"`
	ActualOutput   string         `json:"actual_output"`
	Stderr         string         `json:"stderr,omitempty"`
	Status         sandbox.Status `json:"status"`
	Passed         bool           `json:"passed"`
	DurationMs     int64          `json:"duration_ms"`
}

// Evaluator runs code against test cases through a sandbox.
type Evaluator struct {
	sandbox     sandbox.Sandbox
	caseTimeout time.Duration
	log         zerolog.Logger
}

// NewEvaluator creates an evaluator with a fixed per-case timeout.
func NewEvaluator(sb sandbox.Sandbox, caseTimeout time.Duration, log zerolog.Logger) *Evaluator {
	if caseTimeout <= 0 {
		caseTimeout = sandbox.DefaultTimeout
	}
	return &Evaluator{
		sandbox:     sb,
		caseTimeout: caseTimeout,
		log:         log.With().Str("component", "judge").Logger(),
	}
}

// Evaluate runs every case in order. A failing case never stops the rest.
// Only aggregates are returned; hidden case content stays inside.
func (e *Evaluator) Evaluate(ctx context.Context, code string, cases []model.TestCase) Evaluation {
	ev := Evaluation{Total: len(cases)}
	for _, tc := range cases {
		passed, out := e.runCase(ctx, code, tc)
		if passed {
			ev.Passed++
			ev.Score += tc.Score
		}
		e.log.Debug().
			Int64("test_case_id", tc.ID).
			Str("fingerprint", Fingerprint(tc)).
			Str("status", string(out.Status)).
			Bool("passed", passed).
			Dur("duration", out.Duration).
			Msg("Test case evaluated")
	}
	return ev
}

// RunSamples runs only the sample cases and reports each one in full.
// Hidden cases are skipped entirely.
func (e *Evaluator) RunSamples(ctx context.Context, code string, cases []model.TestCase) []CaseReport {
	reports := make([]CaseReport, 0, len(cases))
	for _, tc := range cases {
		if !tc.IsSample {
			continue
		}
		passed, out := e.runCase(ctx, code, tc)
		reports = append(reports, CaseReport{
			TestCaseID:     tc.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			ActualOutput:   out.Stdout,
			Stderr:         out.Stderr,
			Status:         out.Status,
			Passed:         passed,
			DurationMs:     out.Duration.Milliseconds(),
		})
	}
	return reports
}

// runCase passes only on a clean exit with the whole of stdout matching. A
// capped stdout is a prefix, so it can never count as a match.
func (e *Evaluator) runCase(ctx context.Context, code string, tc model.TestCase) (bool, sandbox.Outcome) {
	out := e.sandbox.Run(ctx, sandbox.Request{Code: code, Stdin: tc.Input, Timeout: e.caseTimeout})
	if out.Status != sandbox.StatusSuccess || out.StdoutTruncated {
		return false, out
	}
	return OutputMatches(out.Stdout, tc.ExpectedOutput), out
}

// OutputMatches compares outputs after trimming surrounding whitespace.
// Case and internal whitespace are significant.
func OutputMatches(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// MaxScore is the sum of case scores.
func MaxScore(cases []model.TestCase) int {
	total := 0
	for _, tc := range cases {
		total += tc.Score
	}
	return total
}

// Fingerprint identifies a test case in logs without revealing its content.
func Fingerprint(tc model.TestCase) string {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(tc.Input))
	h.Write([]byte{0})
	h.Write([]byte(tc.ExpectedOutput))
	return hex.EncodeToString(h.Sum(nil))
}
