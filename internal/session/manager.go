// Package session drives an exam attempt from start to a graded, persisted result.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/model"
)

// Config wires a Manager.
type Config struct {
	Grader  Grader
	Gateway Gateway
	Sink    MistakeSink
	// Listener may be nil.
	Listener Listener
	// Clock defaults to the system clock.
	Clock Clock
	// TickInterval of zero disables the per-session ticker; callers then drive Tick themselves.
	TickInterval time.Duration
}

type userExam struct {
	userID int64
	examID int64
}

// Manager keeps live sessions in memory and drives their timers.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	active   map[userExam]uuid.UUID

	env          *env
	clock        Clock
	tickInterval time.Duration
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:     make(map[uuid.UUID]*Session),
		active:       make(map[userExam]uuid.UUID),
		clock:        cfg.Clock,
		tickInterval: cfg.TickInterval,
		log:          log.With().Str("component", "session_manager").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
	m.env = &env{
		grader:   cfg.Grader,
		gateway:  cfg.Gateway,
		sink:     cfg.Sink,
		listener: cfg.Listener,
		clock:    cfg.Clock,
		log:      log.With().Str("component", "session").Logger(),
		release:  m.remove,
	}
	return m
}

// Start opens a session for userID on exam. A user who already has a live
// session on the same exam gets that session back.
func (m *Manager) Start(ctx context.Context, userID int64, exam *model.Exam) (*Session, error) {
	if exam == nil || len(exam.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	key := userExam{userID: userID, examID: exam.ID}
	if id, ok := m.active[key]; ok {
		if s, ok := m.sessions[id]; ok {
			m.mu.Unlock()
			return s, nil
		}
	}
	s := newSession(userID, exam, m.env)
	m.sessions[s.id] = s
	m.active[key] = s.id
	m.mu.Unlock()

	s.begin()
	m.log.Info().
		Str("session_id", s.id.String()).
		Int64("user_id", userID).
		Int64("exam_id", exam.ID).
		Int("questions", len(exam.Questions)).
		Msg("Session started")

	if m.tickInterval > 0 {
		m.wg.Add(1)
		go m.runTicker(s)
	}
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// GetForUser returns a live session only if it belongs to userID.
func (m *Manager) GetForUser(id uuid.UUID, userID int64) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.userID != userID {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops the tickers, waits for them to exit, then makes a last
// attempt to commit every graded outcome whose commit failed earlier.
// Sessions that are still in progress are left unsubmitted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.flushPending(ctx)
}

func (m *Manager) flushPending(ctx context.Context) error {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	var errs []error
	for _, s := range live {
		if err := s.commitPending(ctx); err != nil {
			m.log.Error().Err(err).Str("session_id", s.id.String()).Msg("Pending submission lost at shutdown")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) runTicker(s *Session) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick(m.clock.Now())
		}
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.id)
	key := userExam{userID: s.userID, examID: s.exam.ID}
	if m.active[key] == s.id {
		delete(m.active, key)
	}
}
