package model

import (
	"time"

	"github.com/memcord/memcord/internal/memerr"
)

// DefaultRelationshipWeight is applied when a relationship is created
// without an explicit weight.
const DefaultRelationshipWeight = 0.8

// Relationship is a directed, typed, weighted edge between two memories.
// Multiple edges between the same pair are allowed as long as they carry
// different ids; (source, target, type) is not a unique key.
type Relationship struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id"`
	TargetID  string         `json:"target_id"`
	Type      string         `json:"type"`
	Weight    float64        `json:"weight"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate checks structural constraints on the edge.
func (r Relationship) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return memerr.Validationf("relationship requires source and target ids")
	}
	if r.SourceID == r.TargetID {
		return memerr.Validationf("relationship cannot be self-referential")
	}
	if r.Type == "" {
		return memerr.Validationf("relationship requires a type")
	}
	if r.Weight < 0 || r.Weight > 1 {
		return memerr.Validationf("relationship weight %v outside [0,1]", r.Weight)
	}
	return ValidateMetadata(r.Metadata)
}

// OtherEnd returns the endpoint of the edge that is not id.
func (r Relationship) OtherEnd(id string) string {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}
