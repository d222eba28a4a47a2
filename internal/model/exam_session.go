package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusTimedOut   SessionStatus = "TIMED_OUT"
	SessionStatusGraded     SessionStatus = "GRADED"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusGraded
}

// ExamSession represents one user's attempt at an exam.
type ExamSession struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     int64         `json:"exam_id"`
	UserID     int64         `json:"user_id"`
	StartedAt  time.Time     `json:"started_at"`
	Deadline   time.Time     `json:"deadline"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Status     SessionStatus `json:"status"`
	TimedOut   bool          `json:"timed_out"`
	TimeSpent  time.Duration `json:"time_spent"`
	TotalScore int           `json:"total_score"`
	MaxScore   int           `json:"max_score"`
	Passed     bool          `json:"passed"`
}

// SessionHistoryItem is one row of a user's exam history.
type SessionHistoryItem struct {
	SessionID        uuid.UUID     `json:"session_id"`
	ExamID           int64         `json:"exam_id"`
	ExamTitle        string        `json:"exam_title"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	Status           SessionStatus `json:"status"`
	TimedOut         bool          `json:"timed_out"`
	TotalScore       int           `json:"total_score"`
	MaxScore         int           `json:"max_score"`
	Passed           bool          `json:"passed"`
	TimeSpentSeconds int64         `json:"time_spent_seconds"`
}

// SessionState is the snapshot a client sees for a live session.
type SessionState struct {
	SessionID        uuid.UUID         `json:"session_id"`
	ExamID           int64             `json:"exam_id"`
	Status           SessionStatus     `json:"status"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	Cursor           int               `json:"cursor"`
	Answers          map[int64]string  `json:"answers"`
	Paper            ExamPaper         `json:"paper"`
	Result           *SubmissionResult `json:"result,omitempty"`
}

// StartSessionRequest is the payload for starting an exam.
type StartSessionRequest struct {
	ExamID int64 `json:"exam_id" binding:"required,min=1"`
}

// RecordAnswerRequest is the payload for saving one answer.
type RecordAnswerRequest struct {
	QuestionID int64  `json:"question_id" binding:"required,min=1"`
	Answer     string `json:"answer" binding:"max=65536"`
}

// JumpRequest moves the display cursor to an arbitrary position.
type JumpRequest struct {
	Index int `json:"index" binding:"min=0"`
}
