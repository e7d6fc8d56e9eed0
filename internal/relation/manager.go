// Package relation owns the typed, weighted edges between memories and
// the depth-bounded traversal over them.
package relation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/metrics"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/store"
)

// DefaultMaxDepth bounds traversal when the caller does not set a depth.
const DefaultMaxDepth = 2

// Manager is the sole writer of relationship edges.
type Manager struct {
	graph     store.GraphStore
	ledger    *history.Ledger
	collector *metrics.Collector
	logger    *slog.Logger
	depthCap  int
}

// NewManager creates a relationship manager. depthCap bounds every
// traversal regardless of what the caller asks for; collector may be
// nil.
func NewManager(graph store.GraphStore, ledger *history.Ledger, collector *metrics.Collector, depthCap int, logger *slog.Logger) *Manager {
	if depthCap <= 0 {
		depthCap = 10
	}
	return &Manager{graph: graph, ledger: ledger, collector: collector, logger: logger, depthCap: depthCap}
}

func (m *Manager) record(op string, start time.Time, err error) {
	if m.collector != nil {
		m.collector.Record(op, time.Since(start), err)
	}
}

// AddInput describes a relationship to create.
type AddInput struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Type     string         `json:"type"`
	Weight   *float64       `json:"weight,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Add validates both endpoints and writes the edge. Both memories must
// exist, be non-deleted, and share the caller's owner scope; cross-scope
// edges are rejected. Appends a relate event on both endpoints.
func (m *Manager) Add(ctx context.Context, principal *auth.Principal, in AddInput) (*model.Relationship, error) {
	weight := model.DefaultRelationshipWeight
	if in.Weight != nil {
		weight = *in.Weight
	}
	rel := model.Relationship{
		ID:        uuid.NewString(),
		SourceID:  in.SourceID,
		TargetID:  in.TargetID,
		Type:      in.Type,
		Weight:    weight,
		Metadata:  in.Metadata,
		CreatedAt: time.Now(),
	}
	if err := rel.Validate(); err != nil {
		return nil, err
	}

	src, err := m.graph.GetNode(ctx, in.SourceID)
	if err != nil {
		return nil, err
	}
	dst, err := m.graph.GetNode(ctx, in.TargetID)
	if err != nil {
		return nil, err
	}
	if src.Scope != dst.Scope {
		return nil, fmt.Errorf("%w: endpoints belong to different scopes", memerr.ErrOwnerMismatch)
	}
	if src.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, in.SourceID)
	}

	if err := m.graph.CreateEdge(ctx, &rel); err != nil {
		return nil, fmt.Errorf("create relationship: %w", err)
	}

	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		ev := &model.HistoryEvent{
			MemoryID: endpoint,
			Action:   model.ActionRelate,
			Actor:    principal.UserID,
		}
		if err := m.ledger.Append(ctx, ev); err != nil {
			m.logger.Warn("relate event append failed", "memory_id", endpoint, "error", err)
		}
	}

	m.logger.Info("relationship created",
		"rel_id", rel.ID, "source", rel.SourceID, "target", rel.TargetID,
		"type", rel.Type, "weight", rel.Weight)
	return &rel, nil
}

// Remove hard-deletes an edge and appends unrelate events on both
// endpoints.
func (m *Manager) Remove(ctx context.Context, principal *auth.Principal, relID string) error {
	edge, err := m.graph.DeleteEdge(ctx, relID)
	if err != nil {
		return err
	}

	// Scope check after the fact would leave the edge gone for a foreign
	// caller, so verify ownership via the source node first when it still
	// exists; a missing node means a concurrent cascade won the race.
	if src, nerr := m.graph.GetNode(ctx, edge.SourceID); nerr == nil && src.Scope.UserID != principal.UserID {
		// Restore and refuse.
		if rerr := m.graph.CreateEdge(ctx, edge); rerr != nil {
			m.logger.Error("failed to restore edge after scope refusal", "rel_id", relID, "error", rerr)
		}
		return fmt.Errorf("%w: relationship %s", memerr.ErrOwnerMismatch, relID)
	}

	m.appendUnrelate(ctx, principal.UserID, edge)
	m.logger.Info("relationship removed", "rel_id", relID)
	return nil
}

// RemoveAllFor cascades edge deletion for a memory that is being
// deleted. Unrelate events are appended for every touched endpoint;
// returns the removed edges.
func (m *Manager) RemoveAllFor(ctx context.Context, actor, memoryID string) ([]model.Relationship, error) {
	removed, err := m.graph.DeleteEdgesTouching(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("cascade edges for %s: %w", memoryID, err)
	}
	for i := range removed {
		m.appendUnrelate(ctx, actor, &removed[i])
	}
	if len(removed) > 0 {
		m.logger.Info("cascaded relationship removal", "memory_id", memoryID, "removed", len(removed))
	}
	return removed, nil
}

func (m *Manager) appendUnrelate(ctx context.Context, actor string, edge *model.Relationship) {
	for _, endpoint := range []string{edge.SourceID, edge.TargetID} {
		ev := &model.HistoryEvent{
			MemoryID: endpoint,
			Action:   model.ActionUnrelate,
			Actor:    actor,
		}
		if err := m.ledger.Append(ctx, ev); err != nil {
			m.logger.Warn("unrelate event append failed", "memory_id", endpoint, "error", err)
		}
	}
}

// List returns the direct edges touching memoryID (depth 1 only).
func (m *Manager) List(ctx context.Context, principal *auth.Principal, memoryID string, typeFilter []string, minWeight float64) ([]model.Relationship, error) {
	node, err := m.graph.GetNode(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if node.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, memoryID)
	}
	return m.graph.EdgesOf(ctx, memoryID, typeFilter, minWeight)
}

// Visit is one node reached by a traversal, with the depth at which it
// was first seen.
type Visit struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Traverse expands breadth-first from startID following edges in either
// direction. Edges below minWeight are excluded before expansion. The
// visited set guarantees each node appears at most once even on cyclic
// graphs, and expansion never exceeds maxDepth frontier steps. The start
// node itself is not part of the result.
func (m *Manager) Traverse(ctx context.Context, principal *auth.Principal, startID string, typeFilter []string, minWeight float64, maxDepth int) (visits []Visit, err error) {
	defer func(begin time.Time) { m.record(metrics.OpTraverse, begin, err) }(time.Now())

	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxDepth > m.depthCap {
		return nil, memerr.Validationf("maxDepth %d exceeds cap %d", maxDepth, m.depthCap)
	}

	start, err := m.graph.GetNode(ctx, startID)
	if err != nil {
		return nil, err
	}
	if start.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, startID)
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		edges, err := m.graph.Neighbors(ctx, frontier, typeFilter, minWeight)
		if err != nil {
			return nil, fmt.Errorf("expand frontier at depth %d: %w", depth, err)
		}

		var next []string
		for _, e := range edges {
			for _, endpoint := range []string{e.SourceID, e.TargetID} {
				if visited[endpoint] {
					continue
				}
				visited[endpoint] = true
				visits = append(visits, Visit{ID: endpoint, Depth: depth})
				next = append(next, endpoint)
			}
		}
		frontier = next
	}

	m.logger.Debug("traverse completed",
		"start", startID, "max_depth", maxDepth, "reached", len(visits))
	return visits, nil
}
