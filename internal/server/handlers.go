package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/memerr"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/relation"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"pong": "memcord"})
}

func principalOr401(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing principal")
	}
	return p, ok
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var in coordinator.AddInput
	if !decodeBody(w, r, &in) {
		return
	}
	mem, err := s.coord.Add(r.Context(), principal, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mem)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	mem, err := s.coord.Get(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var in coordinator.UpdateInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	mem, err := s.coord.Update(r.Context(), principal, r.PathValue("id"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	if _, err := s.coord.Delete(r.Context(), principal, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var in struct {
		Items []coordinator.BatchItem `json:"items"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if len(in.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items cannot be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.coord.BatchUpdate(r.Context(), principal, in.Items))
}

type searchRequest struct {
	Query   string            `json:"query"`
	Context string            `json:"context"`
	Scope   model.OwnerScope  `json:"scope"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.queries.Search(r.Context(), principal, req.Query, req.Scope, req.Filters, req.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.queries.Suggest(r.Context(), principal, req.Context, req.Scope, req.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 0)
	res, err := s.queries.Similar(r.Context(), principal, r.PathValue("id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddRelationship(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var in relation.AddInput
	if !decodeBody(w, r, &in) {
		return
	}
	rel, err := s.relations.Add(r.Context(), principal, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleRemoveRelationship(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	if err := s.relations.Remove(r.Context(), principal, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	rels, err := s.relations.List(r.Context(), principal, r.PathValue("id"),
		queryStrings(r, "type"), queryFloat(r, "min_weight", 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

func (s *Server) handleTraverse(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	visits, err := s.relations.Traverse(r.Context(), principal, r.PathValue("id"),
		queryStrings(r, "type"), queryFloat(r, "min_weight", 0), queryInt(r, "depth", relation.DefaultMaxDepth))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visits": visits})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	// History survives deletion, so the live record may be gone. For a
	// live memory ownership comes from the record; for a deleted one it
	// comes from the recorded events.
	if _, err := s.coord.Get(r.Context(), principal, id); err != nil && !errors.Is(err, memerr.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	page, err := s.ledger.Read(r.Context(), id, r.URL.Query().Get("cursor"),
		queryInt(r, "limit", history.DefaultPageSize))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(page.Events) == 0 && page.NextCursor == "" {
		writeError(w, http.StatusNotFound, "no history for memory "+id)
		return
	}
	if !actedOn(page.Events, principal.UserID) {
		writeError(w, http.StatusForbidden, "memory "+id+" belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func actedOn(events []model.HistoryEvent, userID string) bool {
	for _, ev := range events {
		if ev.Actor == userID {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func queryStrings(r *http.Request, key string) []string {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
