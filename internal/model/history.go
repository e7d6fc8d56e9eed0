package model

import "time"

// HistoryAction identifies the mutation a history event records.
type HistoryAction string

const (
	ActionCreate   HistoryAction = "create"
	ActionUpdate   HistoryAction = "update"
	ActionDelete   HistoryAction = "delete"
	ActionRelate   HistoryAction = "relate"
	ActionUnrelate HistoryAction = "unrelate"
)

// FieldDiff carries the prior and new value of one changed field.
type FieldDiff struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// HistoryEvent is one entry in a memory's append-only ledger. Events are
// produced as side effects of coordinator and relationship mutations,
// never written directly by a client request, and never mutated or
// removed once appended.
type HistoryEvent struct {
	MemoryID  string               `json:"memory_id"`
	Action    HistoryAction        `json:"action"`
	Actor     string               `json:"actor"`
	Timestamp time.Time            `json:"timestamp"`
	Diff      map[string]FieldDiff `json:"diff,omitempty"`
}
