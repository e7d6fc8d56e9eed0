// Package coordinator orchestrates dual-store writes for logical
// memories. It is the sole writer of memory content and embeddings and
// owns consistency and idempotency across the vector index and the
// graph store.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/embedding"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/metrics"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/relation"
	"github.com/memcord/memcord/internal/store"
)

// Broadcaster pushes mutation notifications to a user's live sessions.
// Satisfied by the session manager; nil disables broadcasting.
type Broadcaster interface {
	BroadcastToUser(userID, msgType string, data any) int
}

// Config tunes the write discipline.
type Config struct {
	StoreTimeout   time.Duration
	WriteRetries   int
	RetryBackoff   time.Duration
	IdempotencyTTL time.Duration
}

// Coordinator coordinates the two storage adapters for every memory
// mutation.
type Coordinator struct {
	vec       store.VectorStore
	graph     store.GraphStore
	embedder  embedding.Embedder
	relations *relation.Manager
	ledger    *history.Ledger
	sessions  Broadcaster
	collector *metrics.Collector

	locks  *keyedMutex
	idem   *idemCache
	cfg    Config
	logger *slog.Logger
}

// New creates a coordinator. sessions and collector may be nil.
func New(
	vec store.VectorStore,
	graph store.GraphStore,
	embedder embedding.Embedder,
	relations *relation.Manager,
	ledger *history.Ledger,
	sessions Broadcaster,
	collector *metrics.Collector,
	cfg Config,
	logger *slog.Logger,
) (*Coordinator, error) {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}

	idem, err := newIdemCache(cfg.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("create idempotency cache: %w", err)
	}

	return &Coordinator{
		vec:       vec,
		graph:     graph,
		embedder:  embedder,
		relations: relations,
		ledger:    ledger,
		sessions:  sessions,
		collector: collector,
		locks:     newKeyedMutex(),
		idem:      idem,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func (c *Coordinator) record(op string, start time.Time, err error) {
	if c.collector != nil {
		c.collector.Record(op, time.Since(start), err)
	}
}

func (c *Coordinator) broadcast(userID, msgType string, data any) {
	if c.sessions == nil {
		return
	}
	defer func(start time.Time) { c.record(metrics.OpBroadcast, start, nil) }(time.Now())
	c.sessions.BroadcastToUser(userID, msgType, data)
}

// AddInput describes a memory to create.
type AddInput struct {
	Content    string           `json:"content"`
	Scope      model.OwnerScope `json:"scope"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Importance float64          `json:"importance,omitempty"`
	Level      int              `json:"level,omitempty"`
}

// Add creates a memory: embeds the content, performs the dual-store
// write, appends the create event and notifies the owner's sessions.
// The caller sees a single atomic success or failure.
func (c *Coordinator) Add(ctx context.Context, principal *auth.Principal, in AddInput) (mem *model.Memory, err error) {
	defer func(start time.Time) { c.record(metrics.OpAdd, start, err) }(time.Now())

	if in.Content == "" {
		return nil, memerr.Validationf("content cannot be empty")
	}
	if in.Scope.UserID == "" {
		in.Scope.UserID = principal.UserID
	}
	if err := in.Scope.Validate(); err != nil {
		return nil, err
	}
	if in.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: cannot create memory for another user", memerr.ErrOwnerMismatch)
	}
	if err := model.ValidateMetadata(in.Metadata); err != nil {
		return nil, err
	}
	if err := model.ValidateImportance(in.Importance); err != nil {
		return nil, err
	}

	vector, err := c.embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	mem = &model.Memory{
		ID:         uuid.NewString(),
		Content:    in.Content,
		Embedding:  vector,
		Metadata:   in.Metadata,
		Scope:      in.Scope,
		Importance: in.Importance,
		Level:      in.Level,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err = c.writeDual(ctx, mem, nil); err != nil {
		return nil, err
	}

	if aerr := c.ledger.Append(ctx, &model.HistoryEvent{
		MemoryID: mem.ID,
		Action:   model.ActionCreate,
		Actor:    principal.UserID,
	}); aerr != nil {
		c.logger.Warn("create event append failed", "memory_id", mem.ID, "error", aerr)
	}

	c.broadcast(mem.Scope.UserID, "memory_created", mem)
	c.logger.Info("memory created", "memory_id", mem.ID, "scope", mem.Scope.Key())
	return mem, nil
}

// UpdateInput describes a partial update. Nil fields are left untouched.
type UpdateInput struct {
	Content        *string        `json:"content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Importance     *float64       `json:"importance,omitempty"`
	Level          *int           `json:"level,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Update mutates a memory in place. Re-embeds only when the content
// changed. With an idempotency key, a duplicate request inside the
// retention window returns the previously computed result without
// re-executing.
func (c *Coordinator) Update(ctx context.Context, principal *auth.Principal, id string, in UpdateInput) (mem *model.Memory, err error) {
	defer func(start time.Time) { c.record(metrics.OpUpdate, start, err) }(time.Now())

	if in.IdempotencyKey != "" {
		if cached, ok := c.idem.get(principal.UserID, in.IdempotencyKey); ok {
			c.logger.Debug("idempotent replay", "memory_id", id, "key", in.IdempotencyKey)
			return cached, nil
		}
	}
	if err := model.ValidateMetadata(in.Metadata); err != nil {
		return nil, err
	}
	if in.Importance != nil {
		if err := model.ValidateImportance(*in.Importance); err != nil {
			return nil, err
		}
	}
	if in.Content != nil && *in.Content == "" {
		return nil, memerr.Validationf("content cannot be empty")
	}

	unlock := c.locks.lock(id)
	defer unlock()

	// Re-check under the lock: a duplicate racing on the same key may
	// have completed while we waited.
	if in.IdempotencyKey != "" {
		if cached, ok := c.idem.get(principal.UserID, in.IdempotencyKey); ok {
			return cached, nil
		}
	}

	current, err := c.graph.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, id)
	}

	updated := *current
	diff := make(map[string]model.FieldDiff)

	// Snapshot the prior state up front: a failed dual write on an
	// existing memory is compensated by putting this back, never by
	// deleting what was already there.
	prev := *current
	prevVec, _, ferr := c.vec.Fetch(ctx, id)
	if ferr == nil {
		prev.Embedding = prevVec
	}

	if in.Content != nil && *in.Content != current.Content {
		diff["content"] = model.FieldDiff{Old: current.Content, New: *in.Content}
		updated.Content = *in.Content
		updated.Embedding, err = c.embed(ctx, updated.Content)
		if err != nil {
			return nil, err
		}
	} else if ferr != nil {
		// Vector side missing its point; regenerate rather than fail.
		updated.Embedding, err = c.embed(ctx, current.Content)
		if err != nil {
			return nil, err
		}
	} else {
		// Content unchanged: reuse the stored embedding.
		updated.Embedding = prevVec
	}

	if in.Metadata != nil && !reflect.DeepEqual(in.Metadata, current.Metadata) {
		diff["metadata"] = model.FieldDiff{Old: current.Metadata, New: in.Metadata}
		updated.Metadata = in.Metadata
	}
	if in.Importance != nil && *in.Importance != current.Importance {
		diff["importance"] = model.FieldDiff{Old: current.Importance, New: *in.Importance}
		updated.Importance = *in.Importance
	}
	if in.Level != nil && *in.Level != current.Level {
		diff["level"] = model.FieldDiff{Old: current.Level, New: *in.Level}
		updated.Level = *in.Level
	}

	if len(diff) == 0 {
		// Nothing changed; still an idempotent success.
		if in.IdempotencyKey != "" {
			c.idem.put(principal.UserID, in.IdempotencyKey, current)
		}
		return current, nil
	}

	updated.UpdatedAt = time.Now()
	if err = c.writeDual(ctx, &updated, &prev); err != nil {
		return nil, err
	}

	if aerr := c.ledger.Append(ctx, &model.HistoryEvent{
		MemoryID: id,
		Action:   model.ActionUpdate,
		Actor:    principal.UserID,
		Diff:     diff,
	}); aerr != nil {
		c.logger.Warn("update event append failed", "memory_id", id, "error", aerr)
	}

	if in.IdempotencyKey != "" {
		c.idem.put(principal.UserID, in.IdempotencyKey, &updated)
	}

	c.broadcast(updated.Scope.UserID, "memory_updated", &updated)
	c.logger.Info("memory updated", "memory_id", id, "fields", len(diff))
	return &updated, nil
}

// Delete removes a memory from both stores. Edges are cascaded first so
// no dangling edge is ever observable, then the ledger records the
// delete and closes.
func (c *Coordinator) Delete(ctx context.Context, principal *auth.Principal, id string) (deleted bool, err error) {
	defer func(start time.Time) { c.record(metrics.OpDelete, start, err) }(time.Now())

	unlock := c.locks.lock(id)
	defer unlock()

	current, err := c.graph.GetNode(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Scope.UserID != principal.UserID {
		return false, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, id)
	}

	// Edges first; a reader between these steps sees an edge-less memory,
	// never an edge pointing at a missing one.
	if _, err = c.relations.RemoveAllFor(ctx, principal.UserID, id); err != nil {
		return false, err
	}

	if err = c.deleteDual(ctx, id); err != nil {
		return false, err
	}

	if aerr := c.ledger.Append(ctx, &model.HistoryEvent{
		MemoryID: id,
		Action:   model.ActionDelete,
		Actor:    principal.UserID,
	}); aerr != nil {
		c.logger.Warn("delete event append failed", "memory_id", id, "error", aerr)
	}

	c.broadcast(current.Scope.UserID, "memory_deleted", map[string]string{"id": id})
	c.logger.Info("memory deleted", "memory_id", id)
	return true, nil
}

// List returns every memory in scope, most recently touched first.
func (c *Coordinator) List(ctx context.Context, principal *auth.Principal, scope model.OwnerScope) ([]model.Memory, error) {
	if scope.UserID == "" {
		scope.UserID = principal.UserID
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: cannot list another user's scope", memerr.ErrOwnerMismatch)
	}
	mems, err := c.graph.ListNodes(ctx, scope, nil)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	sort.Slice(mems, func(i, j int) bool { return mems[i].UpdatedAt.After(mems[j].UpdatedAt) })
	return mems, nil
}

// Get returns a memory by id with the owner-scope check applied.
func (c *Coordinator) Get(ctx context.Context, principal *auth.Principal, id string) (*model.Memory, error) {
	m, err := c.graph.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Scope.UserID != principal.UserID {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrOwnerMismatch, id)
	}
	return m, nil
}

// BatchItem is one entry of a batch update.
type BatchItem struct {
	ID     string      `json:"id"`
	Update UpdateInput `json:"update"`
}

// BatchFailure reports a single failed item.
type BatchFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult reports per-item outcomes.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// BatchUpdate executes each item independently. Partial failure is
// expected and reported per item; the batch never aborts as a whole.
func (c *Coordinator) BatchUpdate(ctx context.Context, principal *auth.Principal, items []BatchItem) *BatchResult {
	result := &BatchResult{}
	for _, item := range items {
		if item.ID == "" {
			result.Failed = append(result.Failed, BatchFailure{ID: item.ID, Reason: "memory id is required"})
			continue
		}
		if _, err := c.Update(ctx, principal, item.ID, item.Update); err != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: item.ID, Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, item.ID)
	}
	if len(result.Failed) > 0 {
		c.logger.Warn("batch update partially failed",
			"succeeded", len(result.Succeeded), "failed", len(result.Failed))
	}
	return result
}

func (c *Coordinator) embed(ctx context.Context, text string) (v []float32, err error) {
	defer func(start time.Time) { c.record(metrics.OpEmbedding, start, err) }(time.Now())

	v, eerr := c.embedder.Embed(ctx, text)
	if eerr != nil {
		return nil, fmt.Errorf("%w: %v", memerr.ErrEmbeddingUnavailable, eerr)
	}
	return v, nil
}
