// Package session tracks live client connections, their lifecycle
// states and outbound delivery. Each session owns a bounded send
// buffer drained by a single writer goroutine, so messages to one
// session are serialized while sessions never block each other.
package session

import (
	"sync"
	"time"
)

// State is the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport a session writes to. Satisfied by
// *websocket.Conn via a small adapter in the server package.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Envelope is the wire frame for every outbound message.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one live connection.
type Session struct {
	ID     string
	UserID string

	mu       sync.Mutex
	state    State
	lastSeen time.Time
	conn     Conn
	out      chan Envelope
	done     chan struct{}
	closeOnce sync.Once
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// send enqueues an envelope without blocking. Returns false when the
// buffer is full or the session is closed.
func (s *Session) send(env Envelope) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	select {
	case s.out <- env:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// writeLoop is the single writer for the connection.
func (s *Session) writeLoop() {
	for {
		select {
		case env := <-s.out:
			if err := s.conn.WriteJSON(env); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

// touch updates the activity clock and revives an idle session.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.lastSeen = now
	s.state = StateActive
}
