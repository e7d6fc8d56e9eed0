// Package storetest provides in-memory implementations of the store
// adapter interfaces with fault injection hooks, for tests.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/store"
)

type vectorPoint struct {
	vector  []float32
	payload map[string]string
}

// MemVector is an in-memory store.VectorStore using exact cosine search.
type MemVector struct {
	mu     sync.Mutex
	points map[string]vectorPoint

	// FailUpserts / FailQueries / FailDeletes make the next N calls of
	// that kind fail. Decremented per call.
	FailUpserts int
	FailQueries int
	FailDeletes int
}

// NewMemVector creates an empty vector store fake.
func NewMemVector() *MemVector {
	return &MemVector{points: make(map[string]vectorPoint)}
}

func (s *MemVector) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts > 0 {
		s.FailUpserts--
		return fmt.Errorf("injected vector upsert failure")
	}
	cp := make(map[string]string, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	s.points[id] = vectorPoint{vector: append([]float32(nil), vector...), payload: cp}
	return nil
}

func (s *MemVector) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]store.VectorHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQueries > 0 {
		s.FailQueries--
		return nil, fmt.Errorf("injected vector query failure")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []store.VectorHit
	for id, p := range s.points {
		if !payloadMatches(p.payload, filter) {
			continue
		}
		hits = append(hits, store.VectorHit{ID: id, Score: cosine(vector, p.vector), Payload: p.payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemVector) Fetch(ctx context.Context, id string) ([]float32, map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[id]
	if !ok {
		return nil, nil, fmt.Errorf("point %s: %w", id, memerr.ErrNotFound)
	}
	return p.vector, p.payload, nil
}

func (s *MemVector) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeletes > 0 {
		s.FailDeletes--
		return fmt.Errorf("injected vector delete failure")
	}
	delete(s.points, id)
	return nil
}

// Has reports whether a point for id exists.
func (s *MemVector) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.points[id]
	return ok
}

// Len reports the point count.
func (s *MemVector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

func payloadMatches(payload, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// MemGraph is an in-memory store.GraphStore.
type MemGraph struct {
	mu     sync.Mutex
	nodes  map[string]model.Memory
	edges  map[string]model.Relationship
	events map[string][]model.HistoryEvent

	// FailNodeUpserts / FailEdgeCreates / FailLists make the next N
	// calls of that kind fail.
	FailNodeUpserts int
	FailEdgeCreates int
	FailLists       int

	// BlockLists, when non-nil, is received from before every ListNodes
	// call; closing it unblocks. Used to force read timeouts.
	BlockLists chan struct{}
}

// NewMemGraph creates an empty graph store fake.
func NewMemGraph() *MemGraph {
	return &MemGraph{
		nodes:  make(map[string]model.Memory),
		edges:  make(map[string]model.Relationship),
		events: make(map[string][]model.HistoryEvent),
	}
}

func (g *MemGraph) UpsertNode(ctx context.Context, m *model.Memory) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailNodeUpserts > 0 {
		g.FailNodeUpserts--
		return fmt.Errorf("injected node upsert failure")
	}
	g.nodes[m.ID] = *m
	return nil
}

func (g *MemGraph) GetNode(ctx context.Context, id string) (*model.Memory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, memerr.ErrNotFound)
	}
	cp := n
	return &cp, nil
}

func (g *MemGraph) ListNodes(ctx context.Context, scope model.OwnerScope, ids []string) ([]model.Memory, error) {
	if g.BlockLists != nil {
		select {
		case <-g.BlockLists:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailLists > 0 {
		g.FailLists--
		return nil, fmt.Errorf("injected list failure")
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Memory
	for id, n := range g.nodes {
		if n.Scope != scope {
			continue
		}
		if len(ids) > 0 && !want[id] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (g *MemGraph) DeleteNode(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)
	return nil
}

func (g *MemGraph) CreateEdge(ctx context.Context, r *model.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailEdgeCreates > 0 {
		g.FailEdgeCreates--
		return fmt.Errorf("injected edge create failure")
	}
	g.edges[r.ID] = *r
	return nil
}

func (g *MemGraph) DeleteEdge(ctx context.Context, relID string) (*model.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.edges[relID]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", relID, memerr.ErrNotFound)
	}
	delete(g.edges, relID)
	return &e, nil
}

func (g *MemGraph) EdgesOf(ctx context.Context, memoryID string, typeFilter []string, minWeight float64) ([]model.Relationship, error) {
	return g.Neighbors(ctx, []string{memoryID}, typeFilter, minWeight)
}

func (g *MemGraph) Neighbors(ctx context.Context, ids []string, typeFilter []string, minWeight float64) ([]model.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	types := make(map[string]bool, len(typeFilter))
	for _, t := range typeFilter {
		types[t] = true
	}

	var out []model.Relationship
	for _, e := range g.edges {
		if !want[e.SourceID] && !want[e.TargetID] {
			continue
		}
		if e.Weight < minWeight {
			continue
		}
		if len(types) > 0 && !types[e.Type] {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *MemGraph) DeleteEdgesTouching(ctx context.Context, memoryID string) ([]model.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var removed []model.Relationship
	for id, e := range g.edges {
		if e.SourceID == memoryID || e.TargetID == memoryID {
			removed = append(removed, e)
			delete(g.edges, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func (g *MemGraph) AppendEvent(ctx context.Context, ev *model.HistoryEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[ev.MemoryID] = append(g.events[ev.MemoryID], *ev)
	return nil
}

func (g *MemGraph) Events(ctx context.Context, memoryID string, offset, limit int) ([]model.HistoryEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	evs := g.events[memoryID]
	if offset >= len(evs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(evs) {
		end = len(evs)
	}
	return append([]model.HistoryEvent(nil), evs[offset:end]...), nil
}

func (g *MemGraph) LastEvent(ctx context.Context, memoryID string) (*model.HistoryEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	evs := g.events[memoryID]
	if len(evs) == 0 {
		return nil, nil
	}
	ev := evs[len(evs)-1]
	return &ev, nil
}

// HasNode reports whether a node for id exists.
func (g *MemGraph) HasNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nodes[id]
	return ok
}

// EdgeCount reports the number of stored edges.
func (g *MemGraph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}
