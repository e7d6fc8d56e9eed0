package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/model"
)

// Derived memories are regular memories written through the
// coordinator with a marker in metadata: bridges connect two sessions,
// compressed memories fold a memory and its neighbours into one record.

type bridgeRequest struct {
	SourceSession string           `json:"source_session"`
	TargetSession string           `json:"target_session"`
	SharedContext []string         `json:"shared_context,omitempty"`
	Scope         model.OwnerScope `json:"scope"`
}

// bridgeStrength grows with the amount of shared context, capped at 1.
func bridgeStrength(sharedItems int) float64 {
	return min(1.0, 0.2*float64(sharedItems))
}

func (s *Server) handleCreateBridge(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var req bridgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourceSession == "" || req.TargetSession == "" {
		writeError(w, http.StatusBadRequest, "source_session and target_session are required")
		return
	}
	if req.Scope.AgentID == "" {
		req.Scope.AgentID = model.DefaultAgentID
	}
	content := fmt.Sprintf("Connection between sessions %s and %s: %s",
		req.SourceSession, req.TargetSession, strings.Join(req.SharedContext, ", "))
	mem, err := s.coord.Add(r.Context(), principal, coordinator.AddInput{
		Content: content,
		Scope:   req.Scope,
		Metadata: map[string]any{
			"type":           "bridge",
			"source_session": req.SourceSession,
			"target_session": req.TargetSession,
			"shared_context": req.SharedContext,
		},
		Importance: bridgeStrength(len(req.SharedContext)),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mem)
}

func (s *Server) handleSessionBridges(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("session_id")
	scope := model.OwnerScope{
		UserID:  principal.UserID,
		AgentID: r.URL.Query().Get("agent_id"),
	}
	if scope.AgentID == "" {
		scope.AgentID = model.DefaultAgentID
	}
	mems, err := s.coord.List(r.Context(), principal, scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	bridges := make([]model.Memory, 0)
	for _, m := range mems {
		if m.Metadata["type"] != "bridge" {
			continue
		}
		if m.Metadata["source_session"] == sessionID || m.Metadata["target_session"] == sessionID {
			bridges = append(bridges, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bridges": bridges})
}

// handleCompress folds a memory and its direct neighbours into a new
// memory whose content is the concatenation of theirs. The originals
// are left untouched; the result points back via original_id.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	mem, err := s.coord.Get(r.Context(), principal, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rels, err := s.relations.List(r.Context(), principal, id, nil, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	parts := []string{mem.Content}
	for _, rel := range rels {
		neighbour, err := s.coord.Get(r.Context(), principal, rel.OtherEnd(id))
		if err != nil {
			continue
		}
		parts = append(parts, neighbour.Content)
	}
	compressed, err := s.coord.Add(r.Context(), principal, coordinator.AddInput{
		Content: strings.Join(parts, "\n"),
		Scope:   mem.Scope,
		Metadata: map[string]any{
			"type":        "compressed",
			"original_id": id,
		},
		Importance: mem.Importance,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, compressed)
}
