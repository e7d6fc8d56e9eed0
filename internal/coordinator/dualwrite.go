package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/model"
)

// writeState tracks progress of a dual-store write. The write is modeled
// as an explicit state machine rather than ad hoc error handling: both
// adapter writes run concurrently, the coordinator waits for both, and a
// one-sided failure moves through compensating before failing.
type writeState int

const (
	statePending writeState = iota
	stateVectorWritten
	stateGraphWritten
	stateCompensating
	stateDone
	stateFailed
)

func (s writeState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateVectorWritten:
		return "vector-written"
	case stateGraphWritten:
		return "graph-written"
	case stateCompensating:
		return "compensating"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// vectorPayload builds the payload stored alongside the embedding.
func vectorPayload(m *model.Memory) map[string]string {
	return map[string]string{
		"content":    m.Content,
		"user_id":    m.Scope.UserID,
		"agent_id":   m.Scope.AgentID,
		"updated_at": m.UpdatedAt.Format(time.RFC3339Nano),
		"importance": strconv.FormatFloat(m.Importance, 'f', -1, 64),
	}
}

// withRetry runs fn under the store timeout, retrying transient failures
// with exponential backoff up to the configured attempt count.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt <= c.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		c.logger.Warn("store call failed", "op", op, "attempt", attempt+1, "error", err)
	}
	return err
}

// compensateVector undoes the vector-side write after a graph failure:
// for a create the point is removed, for an update the prior point is
// put back. prev carries the pre-write state, nil for a create; a nil
// prev.Embedding means the point did not exist before.
func (c *Coordinator) compensateVector(ctx context.Context, id string, prev *model.Memory) error {
	return c.withRetry(ctx, "vector compensation", func(ctx context.Context) error {
		if prev == nil || prev.Embedding == nil {
			return c.vec.Delete(ctx, id)
		}
		return c.vec.Upsert(ctx, id, prev.Embedding, vectorPayload(prev))
	})
}

// compensateGraph is the mirror of compensateVector for the graph side.
func (c *Coordinator) compensateGraph(ctx context.Context, id string, prev *model.Memory) error {
	return c.withRetry(ctx, "graph compensation", func(ctx context.Context) error {
		if prev == nil {
			return c.graph.DeleteNode(ctx, id)
		}
		return c.graph.UpsertNode(ctx, prev)
	})
}

// writeDual performs the two-phase dual-store write for m: both adapter
// upserts run concurrently and the coordinator waits for both before
// deciding success or compensation. The caller never observes a
// half-written memory: a one-sided failure rolls the succeeded side
// back to prev (or removes it when prev is nil, i.e. a create) and
// surfaces ErrStoreInconsistency.
func (c *Coordinator) writeDual(ctx context.Context, m *model.Memory, prev *model.Memory) error {
	state := statePending

	vecErr := make(chan error, 1)
	graphErr := make(chan error, 1)

	go func() {
		vecErr <- c.withRetry(ctx, "vector upsert", func(ctx context.Context) error {
			return c.vec.Upsert(ctx, m.ID, m.Embedding, vectorPayload(m))
		})
	}()
	go func() {
		graphErr <- c.withRetry(ctx, "graph upsert", func(ctx context.Context) error {
			return c.graph.UpsertNode(ctx, m)
		})
	}()

	vErr := <-vecErr
	gErr := <-graphErr

	switch {
	case vErr == nil && gErr == nil:
		state = stateDone
		c.logger.Debug("dual write complete", "memory_id", m.ID, "state", state.String())
		return nil

	case vErr == nil && gErr != nil:
		state = stateCompensating
		c.logger.Error("graph write failed after vector write, compensating",
			"memory_id", m.ID, "state", state.String(), "error", gErr)
		if derr := c.compensateVector(ctx, m.ID, prev); derr != nil {
			// Manual reconciliation needed: vector entry left half-written.
			c.logger.Error("compensation failed, stores inconsistent",
				"memory_id", m.ID, "vector_present", true, "error", derr)
		}
		state = stateFailed
		return fmt.Errorf("%w: graph write failed for %s: %v", memerr.ErrStoreInconsistency, m.ID, gErr)

	case vErr != nil && gErr == nil:
		state = stateCompensating
		c.logger.Error("vector write failed after graph write, compensating",
			"memory_id", m.ID, "state", state.String(), "error", vErr)
		if derr := c.compensateGraph(ctx, m.ID, prev); derr != nil {
			c.logger.Error("compensation failed, stores inconsistent",
				"memory_id", m.ID, "graph_present", true, "error", derr)
		}
		state = stateFailed
		return fmt.Errorf("%w: vector write failed for %s: %v", memerr.ErrStoreInconsistency, m.ID, vErr)

	default:
		// Both sides failed; nothing was written that needs compensation.
		state = stateFailed
		c.logger.Error("dual write failed on both stores",
			"memory_id", m.ID, "state", state.String(), "vector_error", vErr, "graph_error", gErr)
		return fmt.Errorf("%w: both stores failed for %s", memerr.ErrStoreInconsistency, m.ID)
	}
}

// deleteDual removes m.ID from both stores concurrently. Edges must
// already be gone by the time this runs.
func (c *Coordinator) deleteDual(ctx context.Context, id string) error {
	vecErr := make(chan error, 1)
	graphErr := make(chan error, 1)

	go func() {
		vecErr <- c.withRetry(ctx, "vector delete", func(ctx context.Context) error {
			return c.vec.Delete(ctx, id)
		})
	}()
	go func() {
		graphErr <- c.withRetry(ctx, "graph delete", func(ctx context.Context) error {
			return c.graph.DeleteNode(ctx, id)
		})
	}()

	vErr := <-vecErr
	gErr := <-graphErr
	if vErr != nil || gErr != nil {
		c.logger.Error("dual delete incomplete, manual reconciliation required",
			"memory_id", id, "vector_error", vErr, "graph_error", gErr)
		return fmt.Errorf("%w: delete incomplete for %s", memerr.ErrStoreInconsistency, id)
	}
	return nil
}
