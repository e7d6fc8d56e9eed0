// Package fusion answers read-side queries by combining vector
// similarity with graph-side records. Reads never mutate either store.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/embedding"
	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/metrics"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/store"
)

const (
	// DefaultLimit is used when the caller does not bound the result.
	DefaultLimit = 10
	// MaxLimit is the hard cap on a single query.
	MaxLimit = 100
)

// Config tunes candidate over-fetching and the per-store timeout.
type Config struct {
	QueryFanout   int
	SuggestFanout int
	StoreTimeout  time.Duration
}

// Engine fuses the two stores for search, suggestion and similarity
// queries.
type Engine struct {
	vec       store.VectorStore
	graph     store.GraphStore
	embedder  embedding.Embedder
	collector *metrics.Collector
	cfg       Config
	logger    *slog.Logger
}

// New creates a fusion engine. collector may be nil.
func New(vec store.VectorStore, graph store.GraphStore, embedder embedding.Embedder, collector *metrics.Collector, cfg Config, logger *slog.Logger) *Engine {
	if cfg.QueryFanout < 3 {
		cfg.QueryFanout = 3
	}
	if cfg.SuggestFanout <= 0 {
		cfg.SuggestFanout = 2
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Engine{vec: vec, graph: graph, embedder: embedder, collector: collector, cfg: cfg, logger: logger}
}

func (e *Engine) record(op string, start time.Time, err error) {
	if e.collector != nil {
		e.collector.Record(op, time.Since(start), err)
	}
}

// Result is a ranked answer. Total counts the matches after filtering
// but before limit truncation, so HasMore tells the caller whether a
// larger limit would return more. Partial is set when the graph side
// was unavailable and only vector-derived data backs the entries.
type Result struct {
	Memories []model.ScoredMemory `json:"memories"`
	Total    int                  `json:"total"`
	HasMore  bool                 `json:"has_more"`
	Partial  bool                 `json:"partial,omitempty"`
}

// Search embeds the query text, over-fetches vector candidates within
// the owner scope, joins them with the graph-side records, applies
// metadata filters and returns the top results ranked by score.
func (e *Engine) Search(ctx context.Context, principal *auth.Principal, query string, scope model.OwnerScope, filters map[string]string, limit int) (res *Result, err error) {
	defer func(start time.Time) { e.record(metrics.OpSearch, start, err) }(time.Now())

	if query == "" {
		return nil, memerr.Validationf("query cannot be empty")
	}
	if err := e.checkScope(principal, &scope); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memerr.ErrEmbeddingUnavailable, err)
	}

	return e.rank(ctx, vector, scope, filters, limit, e.cfg.QueryFanout, "")
}

// Suggest returns proactive candidates for a conversational context
// snippet. Unlike Search it degrades instead of failing when the graph
// side is unavailable: the caller gets a vector-only partial result.
func (e *Engine) Suggest(ctx context.Context, principal *auth.Principal, contextText string, scope model.OwnerScope, limit int) (res *Result, err error) {
	defer func(start time.Time) { e.record(metrics.OpSuggest, start, err) }(time.Now())

	if contextText == "" {
		return nil, memerr.Validationf("context cannot be empty")
	}
	if err := e.checkScope(principal, &scope); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	vector, err := e.embedder.Embed(ctx, contextText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memerr.ErrEmbeddingUnavailable, err)
	}

	return e.rank(ctx, vector, scope, nil, limit, e.cfg.SuggestFanout, "")
}

// Similar ranks memories by similarity to an existing memory's stored
// embedding. The source memory itself is excluded from the result.
func (e *Engine) Similar(ctx context.Context, principal *auth.Principal, memoryID string, limit int) (res *Result, err error) {
	defer func(start time.Time) { e.record(metrics.OpSimilar, start, err) }(time.Now())

	source, err := e.graph.GetNode(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if source.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, memoryID)
	}
	limit = clampLimit(limit)

	vector, _, err := e.vec.Fetch(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("fetch source embedding: %w", err)
	}

	return e.rank(ctx, vector, source.Scope, nil, limit, e.cfg.QueryFanout, memoryID)
}

// rank runs the vector query and the graph-side record lookup in
// parallel, joins candidates by id and returns the fused top results.
// A graph failure or timeout degrades to a vector-only partial result.
func (e *Engine) rank(ctx context.Context, vector []float32, scope model.OwnerScope, filters map[string]string, limit, fanout int, excludeID string) (*Result, error) {
	k := limit * fanout

	vecCtx, cancelVec := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancelVec()
	graphCtx, cancelGraph := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancelGraph()

	scopeFilter := map[string]string{
		"user_id":  scope.UserID,
		"agent_id": scope.AgentID,
	}

	type vecOut struct {
		hits []store.VectorHit
		err  error
	}
	type graphOut struct {
		mems []model.Memory
		err  error
	}

	vecCh := make(chan vecOut, 1)
	graphCh := make(chan graphOut, 1)

	go func() {
		hits, err := e.vec.Query(vecCtx, vector, k, scopeFilter)
		vecCh <- vecOut{hits: hits, err: err}
	}()
	go func() {
		mems, err := e.graph.ListNodes(graphCtx, scope, nil)
		graphCh <- graphOut{mems: mems, err: err}
	}()

	vres := <-vecCh
	gres := <-graphCh

	if vres.err != nil {
		return nil, fmt.Errorf("vector query: %w", vres.err)
	}

	partial := false
	byID := make(map[string]*model.Memory)
	if gres.err != nil {
		partial = true
		e.logger.Warn("graph side unavailable, returning partial result", "error", gres.err)
	} else {
		for i := range gres.mems {
			byID[gres.mems[i].ID] = &gres.mems[i]
		}
	}

	scored := make([]model.ScoredMemory, 0, len(vres.hits))
	for _, hit := range vres.hits {
		if hit.ID == excludeID {
			continue
		}
		var mem *model.Memory
		if m, ok := byID[hit.ID]; ok {
			mem = m
		} else if partial {
			mem = memoryFromPayload(hit)
		} else {
			// In the vector index but not in the graph: a write is in
			// flight or was compensated. Skip rather than surface it.
			continue
		}
		if !matchesFilters(mem, filters) {
			continue
		}
		scored = append(scored, model.ScoredMemory{Memory: *mem, Score: hit.Score})
	}

	// Filters apply before ranking, then the ordering is score
	// descending with recency breaking ties.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].UpdatedAt.After(scored[j].UpdatedAt)
	})

	total := len(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return &Result{Memories: scored, Total: total, HasMore: total > limit, Partial: partial}, nil
}

func (e *Engine) checkScope(principal *auth.Principal, scope *model.OwnerScope) error {
	if scope.UserID == "" {
		scope.UserID = principal.UserID
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	if scope.UserID != principal.UserID {
		return fmt.Errorf("%w: cannot query another user's scope", memerr.ErrOwnerMismatch)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// memoryFromPayload reconstructs a minimal record from the vector
// payload when the graph side is unavailable.
func memoryFromPayload(hit store.VectorHit) *model.Memory {
	m := &model.Memory{
		ID:      hit.ID,
		Content: hit.Payload["content"],
		Scope: model.OwnerScope{
			UserID:  hit.Payload["user_id"],
			AgentID: hit.Payload["agent_id"],
		},
	}
	if ts, err := time.Parse(time.RFC3339Nano, hit.Payload["updated_at"]); err == nil {
		m.UpdatedAt = ts
	}
	return m
}

func matchesFilters(m *model.Memory, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := m.Metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}
