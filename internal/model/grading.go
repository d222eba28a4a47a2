package model

import (
	"time"

	"github.com/google/uuid"
)

// Answers maps question id to the user's raw answer text.
type Answers map[int64]string

// GradingResult is the outcome of grading one exam question.
type GradingResult struct {
	QuestionID  int64  `json:"question_id"`
	Answer      string `json:"answer"`
	Answered    bool   `json:"answered"`
	Correct     bool   `json:"correct"`
	Score       int    `json:"score"`
	MaxScore    int    `json:"max_score"`
	TestsPassed int    `json:"tests_passed,omitempty"`
	TestsTotal  int    `json:"tests_total,omitempty"`
}

// MistakeSignal marks one incorrectly answered question for the mistake book.
type MistakeSignal struct {
	UserID     int64     `json:"user_id"`
	QuestionID int64     `json:"question_id"`
	SessionID  uuid.UUID `json:"session_id"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}

// Submission is everything the persistence gateway stores for one graded session.
type Submission struct {
	Session    ExamSession
	Results    []GradingResult
	TotalScore int
	MaxScore   int
	Passed     bool
	TimeSpent  time.Duration
	Mistakes   []MistakeSignal
}

// SubmissionResult is the read model for a graded session.
type SubmissionResult struct {
	SessionID        uuid.UUID       `json:"session_id"`
	ExamID           int64           `json:"exam_id"`
	Status           SessionStatus   `json:"status"`
	TimedOut         bool            `json:"timed_out"`
	TotalScore       int             `json:"total_score"`
	MaxScore         int             `json:"max_score"`
	Passed           bool            `json:"passed"`
	TimeSpentSeconds int64           `json:"time_spent_seconds"`
	Results          []GradingResult `json:"results"`
}

// Mistake is one entry of a user's mistake book.
type Mistake struct {
	QuestionID   int64        `json:"question_id"`
	Kind         QuestionKind `json:"kind"`
	Prompt       string       `json:"prompt"`
	WrongCount   int          `json:"wrong_count"`
	Mastered     bool         `json:"mastered"`
	Source       string       `json:"source"`
	FirstWrongAt time.Time    `json:"first_wrong_at"`
	LastWrongAt  time.Time    `json:"last_wrong_at"`
}

// RunCodeRequest is the payload for a free-form editor run.
type RunCodeRequest struct {
	Code  string `json:"code" binding:"required,max=65536"`
	Stdin string `json:"stdin" binding:"max=65536"`
}

// RunSamplesRequest is the payload for running code against a question's sample cases.
type RunSamplesRequest struct {
	Code string `json:"code" binding:"required,max=65536"`
}
