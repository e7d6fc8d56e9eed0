// Package model defines the data structures for the memcord memory graph.
package model

import (
	"fmt"
	"time"

	"github.com/memcord/memcord/internal/memerr"
)

// DefaultAgentID is used when a caller does not name an agent.
const DefaultAgentID = "default"

// OwnerScope is the partition key for every memory: the user it belongs
// to and the agent that produced it. Both parts are required.
type OwnerScope struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

// Validate checks that both scope components are present.
func (s OwnerScope) Validate() error {
	if s.UserID == "" {
		return memerr.Validationf("owner scope requires user_id")
	}
	if s.AgentID == "" {
		return memerr.Validationf("owner scope requires agent_id")
	}
	return nil
}

// Key returns a stable string form usable as a store filter value.
func (s OwnerScope) Key() string {
	return s.UserID + "/" + s.AgentID
}

// Memory is a single logical memory, present in both backing stores: the
// vector index holds its embedding, the graph store holds its node.
type Memory struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Scope      OwnerScope     `json:"scope"`
	Importance float64        `json:"importance"`
	Level      int            `json:"level"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ValidateMetadata rejects nested metadata values. Metadata is a flat
// mapping of string to scalar or array of scalars.
func ValidateMetadata(md map[string]any) error {
	for k, v := range md {
		switch val := v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		case []any:
			for _, item := range val {
				switch item.(type) {
				case nil, string, bool, int, int32, int64, float32, float64:
				default:
					return memerr.Validationf("metadata %q: array values must be scalars, got %T", k, item)
				}
			}
		case []string, []float64, []int:
		default:
			return memerr.Validationf("metadata %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// ScoredMemory is a search result: a memory with its fused rank score,
// scaled to [0,1].
type ScoredMemory struct {
	Memory
	Score float64 `json:"score"`
}

// ValidateImportance checks the [0,1] range.
func ValidateImportance(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: importance %v outside [0,1]", memerr.ErrValidation, v)
	}
	return nil
}
