package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler drives a live exam session over a WebSocket.
type WSHandler struct {
	sessions *service.ExamSessionService
	events   EventSource
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// EventSource feeds per-session events to a stream. *ws.Hub implements it.
type EventSource interface {
	Subscribe(sessionID uuid.UUID) (<-chan interface{}, func())
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.ExamSessionService, events EventSource, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		events:   events,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream?token=...
// Pushes a snapshot on connect, then tick, status and graded events. Client
// messages are actions (answer, next, previous, jump, submit, exit, state, ping).
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	// Reject before upgrading so the client gets a plain HTTP status.
	if _, err := h.sessions.State(claims.UserID, sessionID); err != nil {
		failWithError(c, h.log, err)
		return
	}

	// Subscribe before the snapshot is taken: anything that changes after
	// this point arrives as an event.
	events, cancel := h.events.Subscribe(sessionID)
	defer cancel()

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int64("user_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Client connected")

	s := &wsSession{h: h, conn: conn, log: wsLog, userID: claims.UserID, sessionID: sessionID}
	state, err := h.sessions.State(claims.UserID, sessionID)
	if err != nil {
		// Finished between the check and the upgrade.
		s.fail(err)
		return
	}
	if err := conn.WriteTyped(ws.SnapshotEvent{Event: ws.EventSnapshot, State: state}); err != nil {
		return
	}

	go func() {
		for ev := range events {
			if err := conn.WriteTyped(ev); err != nil {
				wsLog.Debug().Err(err).Msg("Event write failed")
				return
			}
		}
	}()

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		if done := s.dispatch(c.Request.Context(), msg); done {
			return
		}
	}
}

// wsSession is the per-connection action dispatcher.
type wsSession struct {
	h         *WSHandler
	conn      *ws.Conn
	log       zerolog.Logger
	userID    int64
	sessionID uuid.UUID
}

// dispatch handles one client action. It reports true when the connection
// should close.
func (s *wsSession) dispatch(ctx context.Context, msg ws.Request) bool {
	svc := s.h.sessions

	switch msg.Action {
	case ws.ActionPing:
		_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionState:
		state, err := svc.State(s.userID, s.sessionID)
		if err != nil {
			s.fail(err)
			return false
		}
		_ = s.conn.WriteTyped(ws.SnapshotEvent{Event: ws.EventSnapshot, State: state})

	case ws.ActionAnswer:
		if msg.QuestionID <= 0 {
			_ = s.conn.WriteError(string(response.ErrValidation), "question_id is required")
			return false
		}
		if err := svc.RecordAnswer(s.userID, s.sessionID, msg.QuestionID, msg.Answer); err != nil {
			s.fail(err)
			return false
		}
		_ = s.conn.WriteTyped(ws.AckEvent{Event: ws.EventAck, Action: msg.Action})

	case ws.ActionNext, ws.ActionPrevious:
		action := service.NavigateNext
		if msg.Action == ws.ActionPrevious {
			action = service.NavigatePrevious
		}
		state, err := svc.Navigate(s.userID, s.sessionID, action)
		if err != nil {
			s.fail(err)
			return false
		}
		s.ackCursor(msg.Action, state.Cursor)

	case ws.ActionJump:
		state, err := svc.Jump(s.userID, s.sessionID, msg.Index)
		if err != nil {
			s.fail(err)
			return false
		}
		s.ackCursor(msg.Action, state.Cursor)

	case ws.ActionSubmit:
		result, err := svc.Submit(ctx, s.userID, s.sessionID)
		if err != nil {
			s.fail(err)
			return false
		}
		s.log.Info().Int("total_score", result.TotalScore).Bool("passed", result.Passed).Msg("Session submitted")
		_ = s.conn.WriteTyped(ws.ResultEvent{Event: ws.EventResult, Result: result})

	case ws.ActionExit:
		if err := svc.Exit(s.userID, s.sessionID); err != nil {
			s.fail(err)
			return false
		}
		_ = s.conn.WriteTyped(ws.AckEvent{Event: ws.EventAck, Action: msg.Action})
		return true

	default:
		s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = s.conn.WriteError("UNKNOWN_ACTION", "unknown action: "+string(msg.Action))
	}
	return false
}

func (s *wsSession) ackCursor(action ws.Action, cursor int) {
	_ = s.conn.WriteTyped(ws.AckEvent{Event: ws.EventAck, Action: action, Cursor: &cursor})
}

func (s *wsSession) fail(err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Action failed")
	}
	_ = s.conn.WriteError(string(code), response.GetMessage(code))
}
