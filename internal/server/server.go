// Package server provides the HTTP and websocket surface with
// lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/memcord/memcord/internal/admission"
	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/embedding"
	"github.com/memcord/memcord/internal/fusion"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/metrics"
	"github.com/memcord/memcord/internal/relation"
	"github.com/memcord/memcord/internal/session"
)

// Server wires the HTTP surface over the domain components.
type Server struct {
	coord     *coordinator.Coordinator
	queries   *fusion.Engine
	relations *relation.Manager
	ledger    *history.Ledger
	sessions  *session.Manager
	admit     *admission.Controller
	validator *auth.Validator
	embedder  embedding.Embedder
	collector *metrics.Collector

	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server listening on addr.
func New(
	addr string,
	coord *coordinator.Coordinator,
	queries *fusion.Engine,
	relations *relation.Manager,
	ledger *history.Ledger,
	sessions *session.Manager,
	admit *admission.Controller,
	validator *auth.Validator,
	embedder embedding.Embedder,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Server {
	s := &Server{
		coord:     coord,
		queries:   queries,
		relations: relations,
		ledger:    ledger,
		sessions:  sessions,
		admit:     admit,
		validator: validator,
		embedder:  embedder,
		collector: collector,
		logger:    logger,
	}

	mux := http.NewServeMux()

	// Unauthenticated liveness checks.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/memories", s.handleAddMemory)
	api.HandleFunc("GET /v1/memories/{id}", s.handleGetMemory)
	api.HandleFunc("PATCH /v1/memories/{id}", s.handleUpdateMemory)
	api.HandleFunc("DELETE /v1/memories/{id}", s.handleDeleteMemory)
	api.HandleFunc("POST /v1/memories/batch", s.handleBatchUpdate)

	api.HandleFunc("POST /v1/search", s.handleSearch)
	api.HandleFunc("POST /v1/suggestions", s.handleSuggest)
	api.HandleFunc("GET /v1/memories/{id}/similar", s.handleSimilar)

	api.HandleFunc("POST /v1/relationships", s.handleAddRelationship)
	api.HandleFunc("DELETE /v1/relationships/{id}", s.handleRemoveRelationship)
	api.HandleFunc("GET /v1/memories/{id}/relationships", s.handleListRelationships)
	api.HandleFunc("GET /v1/memories/{id}/graph", s.handleTraverse)

	api.HandleFunc("POST /v1/memories/{id}/compress", s.handleCompress)
	api.HandleFunc("POST /v1/bridges", s.handleCreateBridge)
	api.HandleFunc("GET /v1/bridges/{session_id}", s.handleSessionBridges)

	api.HandleFunc("GET /v1/memories/{id}/history", s.handleHistory)
	api.HandleFunc("GET /v1/metrics", s.handleMetrics)

	mux.Handle("/v1/", s.withLogging(s.withAuth(s.withRateLimit(api))))
	mux.Handle("GET /v1/ws", s.withLogging(s.withAuth(http.HandlerFunc(s.handleWebsocket))))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the listener and blocks until the context is cancelled,
// then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.sessions.Shutdown()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
