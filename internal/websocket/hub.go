package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
)

const subscriberBuffer = 16

// Hub fans session events out to the WebSocket connections watching each
// session. It implements session.Listener; sends never block, a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*subscriber]struct{}
	log  zerolog.Logger
}

type subscriber struct {
	ch   chan interface{}
	once sync.Once
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[*subscriber]struct{}),
		log:  log.With().Str("component", "ws_hub").Logger(),
	}
}

// Subscribe registers interest in sessionID. The returned cancel func must be
// called once the connection is gone; it closes the channel.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan interface{}, func()) {
	sub := &subscriber{ch: make(chan interface{}, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Subscribers reports how many connections watch sessionID.
func (h *Hub) Subscribers(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) OnTick(sessionID uuid.UUID, remainingSeconds int64) {
	h.publish(sessionID, TickEvent{Event: EventTick, SessionID: sessionID, RemainingSeconds: remainingSeconds})
}

func (h *Hub) OnStateChange(sessionID uuid.UUID, status model.SessionStatus) {
	h.publish(sessionID, StatusEvent{Event: EventStatus, SessionID: sessionID, Status: status})
}

func (h *Hub) OnGraded(sessionID uuid.UUID, totalScore int, passed bool) {
	h.publish(sessionID, GradedEvent{Event: EventGraded, SessionID: sessionID, TotalScore: totalScore, Passed: passed})
}

// publish holds the read lock while sending so cancel cannot close a channel
// mid-send.
func (h *Hub) publish(sessionID uuid.UUID, v interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- v:
		default:
			h.log.Warn().Str("session_id", sessionID.String()).Msg("Subscriber is slow, dropping event")
		}
	}
}
