// Package history implements the append-only per-memory event ledger.
// The coordinator and relationship manager call into it; nothing else
// ever writes history rows.
package history

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/store"
)

// DefaultPageSize bounds a single Read when the caller does not set one.
const DefaultPageSize = 50

// Ledger is the sole writer of history events. Appends are monotonic per
// memory; a memory's ledger is closed after its delete event and accepts
// nothing further.
type Ledger struct {
	graph  store.GraphStore
	logger *slog.Logger

	mu     sync.Mutex
	lastTS map[string]time.Time
	closed map[string]bool

	// now is replaceable in tests
	now func() time.Time
}

// NewLedger creates a ledger over the graph store.
func NewLedger(graph store.GraphStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		graph:  graph,
		logger: logger,
		lastTS: make(map[string]time.Time),
		closed: make(map[string]bool),
		now:    time.Now,
	}
}

// Append writes one event. The timestamp is assigned here and clamped
// forward so events for a memory are strictly ordered even when the wall
// clock stalls or steps back.
func (l *Ledger) Append(ctx context.Context, ev *model.HistoryEvent) error {
	if ev.MemoryID == "" {
		return memerr.Validationf("history event requires memory_id")
	}

	l.mu.Lock()
	if l.closed[ev.MemoryID] {
		l.mu.Unlock()
		return fmt.Errorf("memory %s: %w", ev.MemoryID, memerr.ErrLedgerClosed)
	}
	l.mu.Unlock()

	// On a cold map the closure state lives only in stored rows; a
	// trailing delete event means the ledger was closed before restart.
	if closed, err := l.closedInStore(ctx, ev.MemoryID); err != nil {
		return err
	} else if closed {
		return fmt.Errorf("memory %s: %w", ev.MemoryID, memerr.ErrLedgerClosed)
	}

	l.mu.Lock()
	ts := l.now()
	if last, ok := l.lastTS[ev.MemoryID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	l.lastTS[ev.MemoryID] = ts
	l.mu.Unlock()

	ev.Timestamp = ts
	if err := l.graph.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Action, err)
	}

	if ev.Action == model.ActionDelete {
		l.Close(ev.MemoryID)
	}

	l.logger.Debug("history event appended",
		"memory_id", ev.MemoryID, "action", string(ev.Action), "actor", ev.Actor)
	return nil
}

// Close marks a memory's ledger closed. Idempotent.
func (l *Ledger) Close(memoryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed[memoryID] = true
}

// closedInStore re-derives closure lazily from the stored rows.
func (l *Ledger) closedInStore(ctx context.Context, memoryID string) (bool, error) {
	l.mu.Lock()
	_, seen := l.lastTS[memoryID]
	l.mu.Unlock()
	if seen {
		return false, nil
	}

	last, err := l.graph.LastEvent(ctx, memoryID)
	if err != nil {
		return false, fmt.Errorf("check ledger state: %w", err)
	}
	if last == nil {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if last.Timestamp.After(l.lastTS[memoryID]) {
		l.lastTS[memoryID] = last.Timestamp
	}
	if last.Action == model.ActionDelete {
		l.closed[memoryID] = true
		return true, nil
	}
	return false, nil
}

// Page is one page of a memory's history, oldest-first.
type Page struct {
	Events     []model.HistoryEvent `json:"events"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Read returns events for memoryID oldest-first. cursor is an opaque
// token from a previous page, empty for the first page.
func (l *Ledger) Read(ctx context.Context, memoryID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	// Fetch one extra to detect a following page.
	events, err := l.graph.Events(ctx, memoryID, offset, limit+1)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	page := &Page{}
	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = encodeCursor(offset + limit)
	} else {
		page.Events = events
	}
	return page, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, memerr.Validationf("malformed cursor")
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, memerr.Validationf("malformed cursor")
	}
	return offset, nil
}
