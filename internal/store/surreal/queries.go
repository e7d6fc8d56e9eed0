package surreal

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/model"
)

// memoryRow mirrors the memory table.
type memoryRow struct {
	ID         surrealmodels.RecordID `json:"id"`
	Content    string                 `json:"content"`
	Metadata   map[string]any         `json:"metadata,omitempty"`
	UserID     string                 `json:"user_id"`
	AgentID    string                 `json:"agent_id"`
	Importance float64                `json:"importance"`
	Level      int                    `json:"level"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (r memoryRow) toModel() model.Memory {
	id, _ := r.ID.ID.(string)
	return model.Memory{
		ID:         id,
		Content:    r.Content,
		Metadata:   r.Metadata,
		Scope:      model.OwnerScope{UserID: r.UserID, AgentID: r.AgentID},
		Importance: r.Importance,
		Level:      r.Level,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// edgeRow mirrors the relates table.
type edgeRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	In        surrealmodels.RecordID `json:"in"`
	Out       surrealmodels.RecordID `json:"out"`
	RelID     string                 `json:"rel_id"`
	RelType   string                 `json:"rel_type"`
	Weight    float64                `json:"weight"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r edgeRow) toModel() model.Relationship {
	src, _ := r.In.ID.(string)
	dst, _ := r.Out.ID.(string)
	return model.Relationship{
		ID:        r.RelID,
		SourceID:  src,
		TargetID:  dst,
		Type:      r.RelType,
		Weight:    r.Weight,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}

// eventRow mirrors the history table.
type eventRow struct {
	MemoryID string         `json:"memory_id"`
	Action   string         `json:"action"`
	Actor    string         `json:"actor"`
	TS       time.Time      `json:"ts"`
	Diff     map[string]any `json:"diff,omitempty"`
}

func (r eventRow) toModel() model.HistoryEvent {
	ev := model.HistoryEvent{
		MemoryID:  r.MemoryID,
		Action:    model.HistoryAction(r.Action),
		Actor:     r.Actor,
		Timestamp: r.TS,
	}
	if len(r.Diff) > 0 {
		ev.Diff = make(map[string]model.FieldDiff, len(r.Diff))
		for field, raw := range r.Diff {
			if pair, ok := raw.(map[string]any); ok {
				ev.Diff[field] = model.FieldDiff{Old: pair["old"], New: pair["new"]}
			}
		}
	}
	return ev
}

// UpsertNode writes or replaces the node for m.ID.
func (c *Client) UpsertNode(ctx context.Context, m *model.Memory) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("memory", $id) SET
			content = $content,
			metadata = $metadata,
			user_id = $user_id,
			agent_id = $agent_id,
			importance = $importance,
			level = $level,
			created_at = $created_at,
			updated_at = $updated_at
	`, map[string]any{
		"id":         m.ID,
		"content":    m.Content,
		"metadata":   m.Metadata,
		"user_id":    m.Scope.UserID,
		"agent_id":   m.Scope.AgentID,
		"importance": m.Importance,
		"level":      m.Level,
		"created_at": m.CreatedAt,
		"updated_at": m.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

// GetNode returns the node for id.
func (c *Client) GetNode(ctx context.Context, id string) (*model.Memory, error) {
	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, `
		SELECT * FROM type::record("memory", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("memory %s: %w", id, memerr.ErrNotFound)
	}
	m := (*results)[0].Result[0].toModel()
	return &m, nil
}

// ListNodes returns all nodes in scope, optionally restricted to ids.
func (c *Client) ListNodes(ctx context.Context, scope model.OwnerScope, ids []string) ([]model.Memory, error) {
	sql := `
		SELECT * FROM memory
		WHERE user_id = $user_id AND agent_id = $agent_id
	`
	vars := map[string]any{
		"user_id":  scope.UserID,
		"agent_id": scope.AgentID,
	}
	if len(ids) > 0 {
		sql += ` AND record::id(id) INSIDE $ids`
		vars["ids"] = ids
	}

	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	nodes := make([]model.Memory, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		nodes = append(nodes, row.toModel())
	}
	return nodes, nil
}

// DeleteNode removes the node for id. Missing ids are ignored.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("memory", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// CreateEdge writes the edge r via RELATE.
func (c *Client) CreateEdge(ctx context.Context, r *model.Relationship) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		RELATE type::record("memory", $from)->relates->type::record("memory", $to) SET
			rel_id = $rel_id,
			rel_type = $rel_type,
			weight = $weight,
			metadata = $metadata,
			created_at = $created_at
	`, map[string]any{
		"from":       r.SourceID,
		"to":         r.TargetID,
		"rel_id":     r.ID,
		"rel_type":   r.Type,
		"weight":     r.Weight,
		"metadata":   r.Metadata,
		"created_at": r.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}

// DeleteEdge removes the edge with rel_id and returns it.
func (c *Client) DeleteEdge(ctx context.Context, relID string) (*model.Relationship, error) {
	results, err := surrealdb.Query[[]edgeRow](ctx, c.db, `
		DELETE relates WHERE rel_id = $rel_id RETURN BEFORE
	`, map[string]any{"rel_id": relID})
	if err != nil {
		return nil, fmt.Errorf("delete edge: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("relationship %s: %w", relID, memerr.ErrNotFound)
	}
	edge := (*results)[0].Result[0].toModel()
	return &edge, nil
}

// EdgesOf returns the direct edges touching memoryID in either direction.
func (c *Client) EdgesOf(ctx context.Context, memoryID string, typeFilter []string, minWeight float64) ([]model.Relationship, error) {
	return c.edges(ctx, []string{memoryID}, typeFilter, minWeight)
}

// Neighbors returns all edges touching any id in ids.
func (c *Client) Neighbors(ctx context.Context, ids []string, typeFilter []string, minWeight float64) ([]model.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.edges(ctx, ids, typeFilter, minWeight)
}

func (c *Client) edges(ctx context.Context, ids []string, typeFilter []string, minWeight float64) ([]model.Relationship, error) {
	sql := `
		SELECT * FROM relates
		WHERE (record::id(in) INSIDE $ids OR record::id(out) INSIDE $ids)
			AND weight >= $min_weight
	`
	vars := map[string]any{
		"ids":        ids,
		"min_weight": minWeight,
	}
	if len(typeFilter) > 0 {
		sql += ` AND rel_type INSIDE $types`
		vars["types"] = typeFilter
	}

	results, err := surrealdb.Query[[]edgeRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	edges := make([]model.Relationship, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		edges = append(edges, row.toModel())
	}
	return edges, nil
}

// DeleteEdgesTouching removes every edge with memoryID as either endpoint.
func (c *Client) DeleteEdgesTouching(ctx context.Context, memoryID string) ([]model.Relationship, error) {
	results, err := surrealdb.Query[[]edgeRow](ctx, c.db, `
		DELETE relates
		WHERE record::id(in) = $id OR record::id(out) = $id
		RETURN BEFORE
	`, map[string]any{"id": memoryID})
	if err != nil {
		return nil, fmt.Errorf("delete edges: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	edges := make([]model.Relationship, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		edges = append(edges, row.toModel())
	}
	return edges, nil
}

// AppendEvent appends a history event row.
func (c *Client) AppendEvent(ctx context.Context, ev *model.HistoryEvent) error {
	var diff map[string]any
	if len(ev.Diff) > 0 {
		diff = make(map[string]any, len(ev.Diff))
		for field, pair := range ev.Diff {
			diff[field] = map[string]any{"old": pair.Old, "new": pair.New}
		}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE history SET
			memory_id = $memory_id,
			action = $action,
			actor = $actor,
			ts = $ts,
			diff = $diff
	`, map[string]any{
		"memory_id": ev.MemoryID,
		"action":    string(ev.Action),
		"actor":     ev.Actor,
		"ts":        ev.Timestamp,
		"diff":      diff,
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns history events oldest-first with offset pagination.
func (c *Client) Events(ctx context.Context, memoryID string, offset, limit int) ([]model.HistoryEvent, error) {
	results, err := surrealdb.Query[[]eventRow](ctx, c.db, `
		SELECT * FROM history
		WHERE memory_id = $memory_id
		ORDER BY ts ASC
		LIMIT $limit START $offset
	`, map[string]any{
		"memory_id": memoryID,
		"limit":     limit,
		"offset":    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	events := make([]model.HistoryEvent, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		events = append(events, row.toModel())
	}
	return events, nil
}

// LastEvent returns the most recent event for memoryID, or nil.
func (c *Client) LastEvent(ctx context.Context, memoryID string) (*model.HistoryEvent, error) {
	results, err := surrealdb.Query[[]eventRow](ctx, c.db, `
		SELECT * FROM history
		WHERE memory_id = $memory_id
		ORDER BY ts DESC
		LIMIT 1
	`, map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, fmt.Errorf("last event: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	ev := (*results)[0].Result[0].toModel()
	return &ev, nil
}
