package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
)

// Failed commits are retried from Tick, doubling the wait up to the cap.
const (
	commitRetryBase = time.Second
	commitRetryMax  = 30 * time.Second
)

// env is what a session needs from its manager.
type env struct {
	grader   Grader
	gateway  Gateway
	sink     MistakeSink
	listener Listener
	clock    Clock
	log      zerolog.Logger
	// release is called once the session reaches a final state.
	release func(*Session)
}

// Session is one user's attempt at one exam. All methods are safe for
// concurrent use; listener callbacks run outside the lock.
type Session struct {
	mu sync.Mutex

	id     uuid.UUID
	userID int64
	exam   *model.Exam
	known  map[int64]struct{}
	env    *env

	status     model.SessionStatus
	timedOut   bool
	startedAt  time.Time
	deadline   time.Time
	finishedAt time.Time
	timeSpent  time.Duration
	answers    model.Answers
	cursor     int
	exited     bool

	// outcome is cached after the first grading pass so a failed commit
	// can be retried without grading again.
	outcome    *grading.Outcome
	submitting bool
	// retryAt is when Tick may try a failed commit again.
	retryAt    time.Time
	retryDelay time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

func newSession(userID int64, exam *model.Exam, env *env) *Session {
	known := make(map[int64]struct{}, len(exam.Questions))
	for _, eq := range exam.Questions {
		known[eq.Question.ID] = struct{}{}
	}
	return &Session{
		id:      uuid.New(),
		userID:  userID,
		exam:    exam,
		known:   known,
		env:     env,
		status:  model.SessionStatusNotStarted,
		answers: make(model.Answers),
		done:    make(chan struct{}),
	}
}

// begin moves NOT_STARTED to IN_PROGRESS and fixes the deadline.
func (s *Session) begin() {
	s.mu.Lock()
	now := s.env.clock.Now()
	s.status = model.SessionStatusInProgress
	s.startedAt = now
	s.deadline = now.Add(s.exam.TimeLimit())
	s.mu.Unlock()

	s.env.listener.OnStateChange(s.id, model.SessionStatusInProgress)
}

func (s *Session) ID() uuid.UUID     { return s.id }
func (s *Session) UserID() int64     { return s.userID }
func (s *Session) Exam() *model.Exam { return s.exam }

// Status returns the current state.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the session is graded or exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// RecordAnswer stores value for questionID, replacing any earlier answer.
func (s *Session) RecordAnswer(questionID int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusInProgress || s.exited {
		return fmt.Errorf("record answer in %s: %w", s.status, ErrInvalidTransition)
	}
	if _, ok := s.known[questionID]; !ok {
		return fmt.Errorf("question %d: %w", questionID, ErrUnknownQuestion)
	}
	s.answers[questionID] = value
	return nil
}

// Tick reports the remaining time and starts an automatic submission once the
// deadline has passed. For a SUBMITTED session whose commit failed it retries
// the commit once the backoff has elapsed. It never waits for grading.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	if s.status == model.SessionStatusSubmitted {
		retry := s.outcome != nil && !s.submitting && !now.Before(s.retryAt)
		if retry {
			// Keeps later ticks from starting a second attempt.
			s.retryAt = now.Add(s.retryDelay)
		}
		s.mu.Unlock()
		if retry {
			go s.autoSubmit("Retrying submission commit")
		}
		return
	}
	if s.status != model.SessionStatusInProgress {
		s.mu.Unlock()
		return
	}
	remaining := s.deadline.Sub(now)
	expired := remaining <= 0
	if expired {
		s.status = model.SessionStatusTimedOut
		s.timedOut = true
	}
	s.mu.Unlock()

	s.env.listener.OnTick(s.id, remainingSeconds(remaining))
	if !expired {
		return
	}

	s.env.listener.OnStateChange(s.id, model.SessionStatusTimedOut)
	go s.autoSubmit("Time limit reached, submitting automatically")
}

// autoSubmit is the manager acting as the caller of Submit. A failed commit
// is picked up again by a later Tick.
func (s *Session) autoSubmit(msg string) {
	s.env.log.Info().Str("session_id", s.id.String()).Msg(msg)
	if _, err := s.Submit(context.Background()); err != nil && !errors.Is(err, ErrInvalidTransition) {
		s.env.log.Error().Err(err).Str("session_id", s.id.String()).Msg("Automatic submission failed")
	}
}

// Submit grades the answers and hands the result to the gateway.
//
// Valid from IN_PROGRESS, TIMED_OUT, or SUBMITTED after a failed commit. A
// failed commit leaves the session SUBMITTED and returns ErrPersistence; the
// next call, or the next due Tick, commits the cached outcome again. Cancelling ctx does not abort a
// submission that has started.
func (s *Session) Submit(ctx context.Context) (model.SubmissionResult, error) {
	return s.submit(context.WithoutCancel(ctx))
}

// commitPending makes one attempt to persist an outcome whose earlier commit
// failed. Unlike Submit it honours ctx, so shutdown stays bounded.
func (s *Session) commitPending(ctx context.Context) error {
	s.mu.Lock()
	pending := s.status == model.SessionStatusSubmitted && s.outcome != nil && !s.submitting && !s.exited
	s.mu.Unlock()
	if !pending {
		return nil
	}
	_, err := s.submit(ctx)
	return err
}

func (s *Session) submit(ctx context.Context) (model.SubmissionResult, error) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return model.SubmissionResult{}, fmt.Errorf("submit after exit: %w", ErrInvalidTransition)
	}
	if s.submitting {
		s.mu.Unlock()
		return model.SubmissionResult{}, fmt.Errorf("submission already running: %w", ErrInvalidTransition)
	}

	var answers model.Answers
	entered := false
	switch s.status {
	case model.SessionStatusInProgress, model.SessionStatusTimedOut:
		now := s.env.clock.Now()
		s.status = model.SessionStatusSubmitted
		s.finishedAt = now
		s.timeSpent = now.Sub(s.startedAt)
		answers, s.answers = s.answers, nil
		entered = true
	case model.SessionStatusSubmitted:
		if s.outcome == nil {
			s.mu.Unlock()
			return model.SubmissionResult{}, fmt.Errorf("submitted without outcome: %w", ErrInvalidTransition)
		}
	default:
		status := s.status
		s.mu.Unlock()
		return model.SubmissionResult{}, fmt.Errorf("submit in %s: %w", status, ErrInvalidTransition)
	}
	s.submitting = true
	cached := s.outcome
	s.mu.Unlock()

	if entered {
		s.env.listener.OnStateChange(s.id, model.SessionStatusSubmitted)
	}

	if cached == nil {
		outcome := s.env.grader.Finalize(ctx, s.exam, answers)
		cached = &outcome
		s.mu.Lock()
		s.outcome = cached
		s.mu.Unlock()
	}

	sub := s.submission(cached)
	if err := s.env.gateway.CommitSubmission(ctx, sub); err != nil {
		s.mu.Lock()
		s.submitting = false
		s.retryDelay = nextRetryDelay(s.retryDelay)
		s.retryAt = s.env.clock.Now().Add(s.retryDelay)
		s.mu.Unlock()
		s.env.log.Error().Err(err).Str("session_id", s.id.String()).Msg("Failed to persist submission")
		return model.SubmissionResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	s.status = model.SessionStatusGraded
	s.submitting = false
	s.mu.Unlock()

	s.env.listener.OnStateChange(s.id, model.SessionStatusGraded)
	s.env.listener.OnGraded(s.id, cached.TotalScore, cached.Passed)

	s.recordMistakes(ctx, sub.Mistakes)
	s.finish()

	s.env.log.Info().
		Str("session_id", s.id.String()).
		Int64("user_id", s.userID).
		Int("total_score", cached.TotalScore).
		Bool("passed", cached.Passed).
		Bool("timed_out", sub.Session.TimedOut).
		Msg("Session graded")
	return s.resultFrom(sub), nil
}

// Exit abandons the attempt. Answers are dropped and nothing is persisted.
func (s *Session) Exit() error {
	s.mu.Lock()
	switch s.status {
	case model.SessionStatusNotStarted, model.SessionStatusInProgress:
	default:
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("exit in %s: %w", status, ErrInvalidTransition)
	}
	if s.exited {
		s.mu.Unlock()
		return nil
	}
	s.exited = true
	s.answers = nil
	s.mu.Unlock()

	s.env.log.Info().Str("session_id", s.id.String()).Msg("Session exited without submitting")
	s.finish()
	return nil
}

// Next moves the display cursor forward and returns the new position.
func (s *Session) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < len(s.exam.Questions)-1 {
		s.cursor++
	}
	return s.cursor
}

// Previous moves the display cursor back and returns the new position.
func (s *Session) Previous() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor > 0 {
		s.cursor--
	}
	return s.cursor
}

// Jump moves the display cursor to index.
func (s *Session) Jump(index int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.exam.Questions) {
		return s.cursor, fmt.Errorf("index %d not in [0, %d): %w", index, len(s.exam.Questions), ErrIndexOutOfRange)
	}
	s.cursor = index
	return s.cursor, nil
}

// Cursor returns the index of the displayed question.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// State returns a snapshot suitable for the client.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	answers := make(map[int64]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	state := model.SessionState{
		SessionID: s.id,
		ExamID:    s.exam.ID,
		Status:    s.status,
		Cursor:    s.cursor,
		Answers:   answers,
		Paper:     s.exam.Paper(),
	}
	if s.status == model.SessionStatusInProgress {
		state.RemainingSeconds = remainingSeconds(s.deadline.Sub(s.env.clock.Now()))
	}
	if s.status == model.SessionStatusGraded && s.outcome != nil {
		res := s.resultFrom(s.submissionLocked(s.outcome))
		state.Result = &res
	}
	return state
}

// Snapshot returns the session record as it would be persisted now.
func (s *Session) Snapshot() model.ExamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) submission(outcome *grading.Outcome) model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissionLocked(outcome)
}

func (s *Session) submissionLocked(outcome *grading.Outcome) model.Submission {
	rec := s.recordLocked()
	rec.Status = model.SessionStatusGraded
	rec.TotalScore = outcome.TotalScore
	rec.MaxScore = outcome.MaxScore
	rec.Passed = outcome.Passed
	return model.Submission{
		Session:    rec,
		Results:    outcome.Results,
		TotalScore: outcome.TotalScore,
		MaxScore:   outcome.MaxScore,
		Passed:     outcome.Passed,
		TimeSpent:  s.timeSpent,
		Mistakes:   outcome.Signals(s.userID, s.id, s.finishedAt),
	}
}

func (s *Session) recordLocked() model.ExamSession {
	rec := model.ExamSession{
		ID:        s.id,
		ExamID:    s.exam.ID,
		UserID:    s.userID,
		StartedAt: s.startedAt,
		Deadline:  s.deadline,
		Status:    s.status,
		TimedOut:  s.timedOut,
		TimeSpent: s.timeSpent,
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		rec.FinishedAt = &finished
	}
	if s.outcome != nil {
		rec.TotalScore = s.outcome.TotalScore
		rec.MaxScore = s.outcome.MaxScore
		rec.Passed = s.outcome.Passed
	}
	return rec
}

func (s *Session) resultFrom(sub model.Submission) model.SubmissionResult {
	return model.SubmissionResult{
		SessionID:        sub.Session.ID,
		ExamID:           sub.Session.ExamID,
		Status:           sub.Session.Status,
		TimedOut:         sub.Session.TimedOut,
		TotalScore:       sub.TotalScore,
		MaxScore:         sub.MaxScore,
		Passed:           sub.Passed,
		TimeSpentSeconds: int64(sub.TimeSpent / time.Second),
		Results:          sub.Results,
	}
}

func (s *Session) recordMistakes(ctx context.Context, signals []model.MistakeSignal) {
	if s.env.sink == nil {
		return
	}
	for _, m := range signals {
		if err := s.env.sink.RecordMistake(ctx, m.UserID, m.QuestionID); err != nil {
			s.env.log.Warn().Err(err).
				Int64("user_id", m.UserID).
				Int64("question_id", m.QuestionID).
				Msg("Failed to record mistake")
		}
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		if s.env.release != nil {
			s.env.release(s)
		}
		close(s.done)
	})
}

func nextRetryDelay(prev time.Duration) time.Duration {
	if prev <= 0 {
		return commitRetryBase
	}
	return min(2*prev, commitRetryMax)
}

func remainingSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
