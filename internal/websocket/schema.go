package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionJump     Action = "jump"
	ActionSubmit   Action = "submit"
	ActionExit     Action = "exit"
	ActionState    Action = "state"
	ActionPing     Action = "ping"
)

// Request is every client message. Fields not used by an action are ignored.
type Request struct {
	Action     Action `json:"action"`
	QuestionID int64  `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Index      int    `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventTick     Event = "tick"
	EventStatus   Event = "status"
	EventGraded   Event = "graded"
	EventResult   Event = "result"
	EventAck      Event = "ack"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// SnapshotEvent carries the full client view of a session.
type SnapshotEvent struct {
	Event Event              `json:"event"`
	State model.SessionState `json:"state"`
}

// TickEvent reports the remaining time.
type TickEvent struct {
	Event            Event     `json:"event"`
	SessionID        uuid.UUID `json:"session_id"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// StatusEvent reports a state transition.
type StatusEvent struct {
	Event     Event               `json:"event"`
	SessionID uuid.UUID           `json:"session_id"`
	Status    model.SessionStatus `json:"status"`
}

// GradedEvent is pushed once the result is persisted.
type GradedEvent struct {
	Event      Event     `json:"event"`
	SessionID  uuid.UUID `json:"session_id"`
	TotalScore int       `json:"total_score"`
	Passed     bool      `json:"passed"`
}

// ResultEvent answers a submit action with the full result.
type ResultEvent struct {
	Event  Event                  `json:"event"`
	Result model.SubmissionResult `json:"result"`
}

// AckEvent confirms an action that has no other reply.
type AckEvent struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
	Cursor *int   `json:"cursor,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
