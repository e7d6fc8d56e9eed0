package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memcord/memcord/internal/admission"
	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/session"
)

const (
	wsReadLimit  = 1 << 20
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth happens before the upgrade; origins are not restricted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts *websocket.Conn with write serialization happening in
// the session's writer goroutine.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// inboundMessage is a frame received from a client.
type inboundMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := s.sessions.Connect(principal.UserID, &wsConn{conn: conn})
	defer s.sessions.CloseSession(sess.ID)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		s.sessions.Touch(sess.ID)
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Protocol-level pings keep the connection alive independently of
	// application traffic.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	s.sessions.Touch(sess.ID)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "session_id", sess.ID, "error", err)
			}
			return
		}
		s.sessions.Touch(sess.ID)

		if err := s.admit.Check(principal.UserID, admission.ClassStream); err != nil {
			s.wsError(sess, msg.ID, err)
			continue
		}

		switch msg.Type {
		case "ping":
			s.sessions.SendTo(sess.ID, "pong", map[string]string{"id": msg.ID})
		case "memory_update":
			s.wsMemoryUpdate(r, sess, principal, msg)
		case "memory_digest":
			s.wsMemoryDigest(r, sess, principal, msg)
		default:
			s.wsError(sess, msg.ID, memerr.Validationf("unknown message type %q", msg.Type))
		}
	}
}

// wsMemoryUpdate applies an update pushed over the socket. The mutation
// goes through the coordinator, so the acknowledging broadcast reaches
// every session of the user including this one.
func (s *Server) wsMemoryUpdate(r *http.Request, sess *session.Session, principal *auth.Principal, msg inboundMessage) {
	var payload struct {
		MemoryID string `json:"memory_id"`
		coordinator.UpdateInput
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.wsError(sess, msg.ID, memerr.Validationf("invalid memory_update payload: %v", err))
		return
	}
	if payload.MemoryID == "" {
		s.wsError(sess, msg.ID, memerr.Validationf("memory_id is required"))
		return
	}

	if _, err := s.coord.Update(r.Context(), principal, payload.MemoryID, payload.UpdateInput); err != nil {
		s.wsError(sess, msg.ID, err)
		return
	}
	s.sessions.SendTo(sess.ID, "ack", map[string]string{"id": msg.ID, "memory_id": payload.MemoryID})
}

// wsMemoryDigest generates a short summary of one memory and streams it
// back to the requesting session in bounded chunks. Generation runs off
// the read loop; disconnecting cancels it at the next chunk boundary.
func (s *Server) wsMemoryDigest(r *http.Request, sess *session.Session, principal *auth.Principal, msg inboundMessage) {
	var payload struct {
		MemoryID string `json:"memory_id"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.wsError(sess, msg.ID, memerr.Validationf("invalid memory_digest payload: %v", err))
		return
	}
	if payload.MemoryID == "" {
		s.wsError(sess, msg.ID, memerr.Validationf("memory_id is required"))
		return
	}

	mem, err := s.coord.Get(r.Context(), principal, payload.MemoryID)
	if err != nil {
		s.wsError(sess, msg.ID, err)
		return
	}

	go func() {
		prompt := "Summarize the following memory in one short paragraph:\n\n" + mem.Content
		text, err := s.embedder.Generate(r.Context(), prompt)
		if err != nil {
			s.wsError(sess, msg.ID, fmt.Errorf("%w: %v", memerr.ErrEmbeddingUnavailable, err))
			return
		}
		if err := s.sessions.StreamChunks(r.Context(), sess.ID, msg.ID, text); err != nil {
			s.logger.Debug("digest stream aborted", "session_id", sess.ID, "error", err)
		}
	}()
}

func (s *Server) wsError(sess *session.Session, msgID string, err error) {
	body := map[string]any{"id": msgID, "error": err.Error()}
	if rl, ok := memerr.IsRateLimited(err); ok {
		body["retry_after_seconds"] = rl.RetryAfterSeconds()
	}
	s.sessions.SendTo(sess.ID, "error", body)
}
