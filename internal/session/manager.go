package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memcord/memcord/internal/memerr"
)

// Config tunes lifecycle timings and delivery.
type Config struct {
	SilenceWindow time.Duration // active -> idle
	IdleTimeout   time.Duration // idle -> closed
	SendBuffer    int
	ChunkSize     int
	SweepInterval time.Duration
}

// Manager is the registry of live sessions. It runs a background
// sweeper that demotes silent sessions to idle and reaps idle ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session

	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a manager and starts its sweeper.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}

	m := &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweep()
	return m
}

// Connect registers a new session for the connection and starts its
// writer. The session begins in the connecting state and becomes
// active on the first Touch.
func (m *Manager) Connect(userID string, conn Conn) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		state:    StateConnecting,
		lastSeen: m.now(),
		conn:     conn,
		out:      make(chan Envelope, m.cfg.SendBuffer),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][s.ID] = s
	m.mu.Unlock()

	go s.writeLoop()

	m.logger.Info("session connected", "session_id", s.ID, "user_id", userID)
	return s
}

// Touch records activity on a session, promoting it to active.
func (m *Manager) Touch(sessionID string) {
	m.mu.RLock()
	s := m.sessions[sessionID]
	m.mu.RUnlock()
	if s != nil {
		s.touch(m.now())
	}
}

// CloseSession closes and deregisters a session.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	if s != nil {
		delete(m.sessions, sessionID)
		if peers := m.byUser[s.UserID]; peers != nil {
			delete(peers, sessionID)
			if len(peers) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
	}
	m.mu.Unlock()

	if s != nil {
		s.close()
		m.logger.Info("session closed", "session_id", sessionID, "user_id", s.UserID)
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// BroadcastToUser sends a typed message to every live session of a
// user and returns the number of sessions reached. A session whose
// buffer is full is a slow consumer: its message is dropped and the
// session is closed rather than blocking the rest.
func (m *Manager) BroadcastToUser(userID, msgType string, data any) int {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.byUser[userID]))
	for _, s := range m.byUser[userID] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	env := Envelope{Type: msgType, Data: data, Timestamp: m.now()}
	delivered := 0
	for _, s := range targets {
		if s.State() == StateClosed {
			continue
		}
		if s.send(env) {
			delivered++
			continue
		}
		m.logger.Warn("dropping slow consumer", "session_id", s.ID, "user_id", userID, "type", msgType)
		m.CloseSession(s.ID)
	}
	return delivered
}

// SendTo delivers a typed message to a single session. Returns false
// when the session is gone or its buffer is full; a full buffer closes
// the session like in BroadcastToUser.
func (m *Manager) SendTo(sessionID, msgType string, data any) bool {
	m.mu.RLock()
	s := m.sessions[sessionID]
	m.mu.RUnlock()
	if s == nil || s.State() == StateClosed {
		return false
	}
	if s.send(Envelope{Type: msgType, Data: data, Timestamp: m.now()}) {
		return true
	}
	m.logger.Warn("dropping slow consumer", "session_id", s.ID, "user_id", s.UserID, "type", msgType)
	m.CloseSession(s.ID)
	return false
}

// Chunk is one piece of a chunked payload stream.
type Chunk struct {
	ID      string `json:"id"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// StreamChunks splits content into bounded chunks and delivers them in
// order to one session. The final chunk carries Done. Cancelling the
// context stops the stream between chunks.
func (m *Manager) StreamChunks(ctx context.Context, sessionID, streamID, content string) error {
	m.mu.RLock()
	s := m.sessions[sessionID]
	m.mu.RUnlock()
	if s == nil || s.State() == StateClosed {
		return fmt.Errorf("%w: session %s", memerr.ErrSessionClosed, sessionID)
	}

	runes := []rune(content)
	size := m.cfg.ChunkSize
	total := (len(runes) + size - 1) / size
	if total == 0 {
		total = 1
	}

	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := (i + 1) * size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := Chunk{
			ID:      streamID,
			Index:   i,
			Total:   total,
			Content: string(runes[i*size : end]),
			Done:    i == total-1,
		}
		if !s.send(Envelope{Type: "memory_chunk", Data: chunk, Timestamp: m.now()}) {
			m.CloseSession(s.ID)
			return fmt.Errorf("%w: session %s", memerr.ErrSessionClosed, sessionID)
		}
	}
	return nil
}

// sweep runs the lifecycle clock: active sessions silent past the
// window become idle, idle sessions past the timeout are reaped.
func (m *Manager) sweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	now := m.now()
	var reap []string

	m.mu.RLock()
	for id, s := range m.sessions {
		s.mu.Lock()
		switch s.state {
		case StateActive, StateConnecting:
			if now.Sub(s.lastSeen) > m.cfg.SilenceWindow {
				s.state = StateIdle
			}
		case StateIdle:
			if now.Sub(s.lastSeen) > m.cfg.SilenceWindow+m.cfg.IdleTimeout {
				reap = append(reap, id)
			}
		case StateClosed:
			reap = append(reap, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, id := range reap {
		m.CloseSession(id)
	}
}

// Shutdown closes every session and stops the sweeper.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.byUser = make(map[string]map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	m.logger.Info("session manager stopped", "closed", len(all))
}
