package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
)

// Listener receives session events for rendering. Calls are made outside the
// session lock and must not block for long.
type Listener interface {
	OnTick(sessionID uuid.UUID, remainingSeconds int64)
	OnStateChange(sessionID uuid.UUID, status model.SessionStatus)
	OnGraded(sessionID uuid.UUID, totalScore int, passed bool)
}

// NopListener discards every event.
type NopListener struct{}

func (NopListener) OnTick(uuid.UUID, int64)                      {}
func (NopListener) OnStateChange(uuid.UUID, model.SessionStatus) {}
func (NopListener) OnGraded(uuid.UUID, int, bool)                {}

// Listeners fans events out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnTick(id uuid.UUID, remaining int64) {
	for _, l := range ls {
		l.OnTick(id, remaining)
	}
}

func (ls Listeners) OnStateChange(id uuid.UUID, status model.SessionStatus) {
	for _, l := range ls {
		l.OnStateChange(id, status)
	}
}

func (ls Listeners) OnGraded(id uuid.UUID, total int, passed bool) {
	for _, l := range ls {
		l.OnGraded(id, total, passed)
	}
}

// Grader produces the graded outcome of a paper.
type Grader interface {
	Finalize(ctx context.Context, exam *model.Exam, answers model.Answers) grading.Outcome
}

// Gateway persists a graded submission atomically. Committing the same
// session twice must not double count.
type Gateway interface {
	CommitSubmission(ctx context.Context, sub model.Submission) error
}

// MistakeSink counts wrong answers. It is best effort.
type MistakeSink interface {
	RecordMistake(ctx context.Context, userID, questionID int64) error
}

// Clock is the time source for deadlines.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
