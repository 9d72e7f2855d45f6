package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/session"
	"github.com/stemsi/exstem-engine/internal/validator"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
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

// WSHandler streams session events to the student and accepts autosave and
// submit actions on the same connection.
type WSHandler struct {
	sessions *session.Manager
	hub      *ws.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *session.Manager, hub *ws.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		hub:      hub,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for live countdown, lock and threshold events.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	m := h.sessions.Get(examID, studentID)

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	events, unsubscribe := h.hub.Subscribe(examID, studentID)
	defer unsubscribe()

	out := make(chan ws.ResponsePayload, 16)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, wsLog, events, out, writerDone)

	push := func(p ws.ResponsePayload) {
		select {
		case out <- p:
		case <-writerDone:
		}
	}
	send := func(event ws.Event, data interface{}) {
		p, err := ws.Frame(event, data)
		if err != nil {
			wsLog.Error().Err(err).Str("event", string(event)).Msg("Encode frame failed")
			return
		}
		push(p)
	}
	sendErr := func(msg string) { push(ws.ErrorFrame(msg)) }

	wsLog.Info().Msg("Student connected")
	send(ws.EventSuccess, m.View())

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionPing:
			send(ws.EventPong, nil)
		case ws.ActionAutosave:
			req := model.SaveAnswerRequest{QuestionID: msg.QID, Answer: msg.Answer}
			if fields := validator.Struct(&req); fields != nil {
				sendErr(firstField(fields))
				continue
			}
			if err := m.SaveAnswer(c.Request.Context(), req.QuestionID, req.Answer); err != nil {
				_, code := statusOf(err)
				sendErr(response.GetMessage(code))
				continue
			}
			send(ws.EventSuccess, map[string]string{"status": "saved", "q_id": msg.QID})
		case ws.ActionSubmit:
			ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), submitTimeout)
			outcome, err := m.Submit(ctx)
			cancel()
			if err != nil {
				_, code := statusOf(err)
				sendErr(response.GetMessage(code))
				continue
			}
			send(ws.EventSuccess, outcome)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			sendErr("unknown action: " + string(msg.Action))
		}
	}

	// Unblock the writer; it exits once it sees the closed subscription.
	unsubscribe()
	<-writerDone
}

// firstField picks one message in field order.
func firstField(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fields[keys[0]]
}

// writeLoop is the only goroutine that writes to conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, log zerolog.Logger, events <-chan session.Event, out <-chan ws.ResponsePayload, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p, err := ws.Frame(ws.EventSession, ev)
			if err != nil {
				log.Error().Err(err).Str("type", string(ev.Type)).Msg("Encode event failed")
				continue
			}
			if err := ws.WriteTyped(conn, p); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				return
			}
		case p := <-out:
			if err := ws.WriteTyped(conn, p); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				return
			}
		}
	}
}
