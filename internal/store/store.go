// Package store defines the narrow adapter interfaces over the two
// backing stores: a vector-similarity index and a property-graph store.
// The coordinator, fusion engine and relationship manager only ever see
// these interfaces, never a concrete backend.
package store

import (
	"context"

	"github.com/memcord/memcord/internal/model"
)

// VectorHit is one similarity-query result.
type VectorHit struct {
	ID      string
	Score   float64 // cosine similarity, clamped to [0,1] by adapters
	Payload map[string]string
}

// VectorStore is the adapter over the similarity-search backend.
// Upserts are assumed eventually consistent within a short bound.
type VectorStore interface {
	// Upsert writes or replaces the point for id.
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error

	// Query returns the top-k points closest to vector, restricted to
	// points whose payload matches every entry of filter.
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorHit, error)

	// Fetch returns the stored vector and payload for id.
	Fetch(ctx context.Context, id string) ([]float32, map[string]string, error)

	// Delete removes the point for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
}

// GraphStore is the adapter over the property-graph backend. A single
// call may be transactional inside the backend, but no transaction ever
// spans both adapters.
type GraphStore interface {
	// UpsertNode writes or replaces the node for m.ID.
	UpsertNode(ctx context.Context, m *model.Memory) error

	// GetNode returns the node for id, or memerr.ErrNotFound.
	GetNode(ctx context.Context, id string) (*model.Memory, error)

	// ListNodes returns all nodes in scope. When ids is non-empty the
	// result is restricted to those ids.
	ListNodes(ctx context.Context, scope model.OwnerScope, ids []string) ([]model.Memory, error)

	// DeleteNode removes the node for id. Deleting a missing id is not an error.
	DeleteNode(ctx context.Context, id string) error

	// CreateEdge writes the edge r. Both endpoints must already exist.
	CreateEdge(ctx context.Context, r *model.Relationship) error

	// DeleteEdge removes the edge and returns it, or memerr.ErrNotFound.
	DeleteEdge(ctx context.Context, relID string) (*model.Relationship, error)

	// EdgesOf returns the direct edges touching memoryID (either
	// direction), filtered by type and minimum weight.
	EdgesOf(ctx context.Context, memoryID string, typeFilter []string, minWeight float64) ([]model.Relationship, error)

	// Neighbors returns all edges touching any id in ids, filtered by
	// type and minimum weight. Used for frontier expansion.
	Neighbors(ctx context.Context, ids []string, typeFilter []string, minWeight float64) ([]model.Relationship, error)

	// DeleteEdgesTouching removes every edge with memoryID as either
	// endpoint and returns the removed edges.
	DeleteEdgesTouching(ctx context.Context, memoryID string) ([]model.Relationship, error)

	// AppendEvent appends a history event. The ledger is the only caller.
	AppendEvent(ctx context.Context, ev *model.HistoryEvent) error

	// Events returns history events for memoryID oldest-first, starting
	// at offset, at most limit.
	Events(ctx context.Context, memoryID string, offset, limit int) ([]model.HistoryEvent, error)

	// LastEvent returns the most recent event for memoryID, or nil when
	// the ledger is empty.
	LastEvent(ctx context.Context, memoryID string) (*model.HistoryEvent, error)
}
