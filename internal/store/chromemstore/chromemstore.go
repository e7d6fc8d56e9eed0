// Package chromemstore implements the vector store adapter on top of
// chromem-go, a pure Go embedded vector database.
package chromemstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/store"
)

const collectionName = "memories"

// Store wraps a chromem collection. Embeddings are always provided by the
// caller, never computed by chromem itself.
type Store struct {
	db     *chromem.DB
	col    *chromem.Collection
	mu     sync.Mutex // serializes upsert (delete + add) per process
	logger *slog.Logger
}

// New creates an in-process vector store.
func New(logger *slog.Logger) (*Store, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{db: db, col: col, logger: logger}, nil
}

// NewPersistent creates a vector store persisted under path.
func NewPersistent(path string, logger *slog.Logger) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}
	return &Store{db: db, col: col, logger: logger}, nil
}

// Upsert writes or replaces the point for id.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem's AddDocument rejects duplicate ids, so replace is
	// delete-then-add under the store mutex.
	if _, err := s.col.GetByID(ctx, id); err == nil {
		if err := s.col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("replace point %s: %w", id, err)
		}
	}

	doc := chromem.Document{
		ID:        id,
		Content:   payload["content"],
		Embedding: vector,
		Metadata:  payload,
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query returns the top-k points closest to vector.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]store.VectorHit, error) {
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem caps nResults at the collection size.
	if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, vector, k, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]store.VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, store.VectorHit{
			ID:      r.ID,
			Score:   clampScore(float64(r.Similarity)),
			Payload: r.Metadata,
		})
	}
	return hits, nil
}

// Fetch returns the stored vector and payload for id.
func (s *Store) Fetch(ctx context.Context, id string) ([]float32, map[string]string, error) {
	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("point %s: %w", id, memerr.ErrNotFound)
	}
	return doc.Embedding, doc.Metadata, nil
}

// Delete removes the point for id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.col.GetByID(ctx, id); err != nil {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("delete point %s: %w", id, err)
	}
	return nil
}

// clampScore maps cosine similarity into [0,1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
