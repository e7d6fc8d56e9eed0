package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcord/memcord/internal/admission"
	"github.com/memcord/memcord/internal/auth"
	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/embedding"
	"github.com/memcord/memcord/internal/fusion"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/metrics"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/relation"
	"github.com/memcord/memcord/internal/session"
	"github.com/memcord/memcord/internal/store/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type env struct {
	ts        *httptest.Server
	validator *auth.Validator
	vec       *storetest.MemVector
	graph     *storetest.MemGraph
}

func newEnv(t *testing.T, httpLimits admission.Limits) *env {
	t.Helper()
	logger := testLogger()
	vec := storetest.NewMemVector()
	graph := storetest.NewMemGraph()
	embedder := embedding.NewMock(8)
	collector := metrics.NewCollector()
	ledger := history.NewLedger(graph, logger)
	relations := relation.NewManager(graph, ledger, nil, 10, logger)

	sessions := session.NewManager(session.Config{}, logger)
	t.Cleanup(sessions.Shutdown)

	coord, err := coordinator.New(vec, graph, embedder, relations, ledger, sessions, collector,
		coordinator.Config{StoreTimeout: time.Second, WriteRetries: 1, RetryBackoff: time.Millisecond}, logger)
	require.NoError(t, err)

	queries := fusion.New(vec, graph, embedder, collector, fusion.Config{
		QueryFanout: 3, SuggestFanout: 2, StoreTimeout: time.Second,
	}, logger)

	admit := admission.NewController(map[admission.Class]admission.Limits{
		admission.ClassHTTP: httpLimits,
	}, logger)

	validator := auth.NewValidator("test-secret")
	srv := New(":0", coord, queries, relations, ledger, sessions, admit, validator, embedder, collector, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &env{ts: ts, validator: validator, vec: vec, graph: graph}
}

func (e *env) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.validator.Sign(userID, nil)
	require.NoError(t, err)
	return tok
}

func TestHealthNoAuth(t *testing.T) {
	e := newEnv(t, admission.Limits{})

	resp := e.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, admission.Limits{})

	resp := e.request(t, http.MethodPost, "/v1/memories", "", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPost, "/v1/memories", "garbage-token", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestMemoryCRUDOverHTTP(t *testing.T) {
	e := newEnv(t, admission.Limits{})
	tok := e.token(t, "alice")

	// Create
	resp := e.request(t, http.MethodPost, "/v1/memories", tok, map[string]any{
		"content": "prefers dark mode",
		"scope":   map[string]string{"user_id": "alice", "agent_id": "assistant"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Memory](t, resp)
	require.NotEmpty(t, created.ID)

	// Read
	resp = e.request(t, http.MethodGet, "/v1/memories/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Memory](t, resp)
	assert.Equal(t, "prefers dark mode", got.Content)

	// Update
	resp = e.request(t, http.MethodPatch, "/v1/memories/"+created.ID, tok, map[string]any{
		"content": "prefers light mode now",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[model.Memory](t, resp)
	assert.Equal(t, "prefers light mode now", updated.Content)

	// History shows both mutations.
	resp = e.request(t, http.MethodGet, "/v1/memories/"+created.ID+"/history", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[history.Page](t, resp)
	require.Len(t, page.Events, 2)

	// Delete
	resp = e.request(t, http.MethodDelete, "/v1/memories/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodGet, "/v1/memories/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// History survives deletion.
	resp = e.request(t, http.MethodGet, "/v1/memories/"+created.ID+"/history", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[history.Page](t, resp)
	assert.Len(t, page.Events, 3)
}

func TestForeignMemoryForbidden(t *testing.T) {
	e := newEnv(t, admission.Limits{})

	resp := e.request(t, http.MethodPost, "/v1/memories", e.token(t, "alice"), map[string]any{
		"content": "mine",
		"scope":   map[string]string{"user_id": "alice", "agent_id": "assistant"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Memory](t, resp)

	resp = e.request(t, http.MethodGet, "/v1/memories/"+created.ID, e.token(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	e := newEnv(t, admission.Limits{})
	tok := e.token(t, "alice")

	for _, content := range []string{"likes espresso", "ships on fridays"} {
		resp := e.request(t, http.MethodPost, "/v1/memories", tok, map[string]any{
			"content": content,
			"scope":   map[string]string{"user_id": "alice", "agent_id": "assistant"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := e.request(t, http.MethodPost, "/v1/search", tok, map[string]any{
		"query": "likes espresso",
		"scope": map[string]string{"user_id": "alice", "agent_id": "assistant"},
		"limit": 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[fusion.Result](t, resp)
	require.NotEmpty(t, res.Memories)
	assert.Equal(t, "likes espresso", res.Memories[0].Content)
}

func TestValidationMapsTo400(t *testing.T) {
	e := newEnv(t, admission.Limits{})
	tok := e.token(t, "alice")

	resp := e.request(t, http.MethodPost, "/v1/memories", tok, map[string]any{
		"content": "",
		"scope":   map[string]string{"user_id": "alice", "agent_id": "assistant"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimitHeaders(t *testing.T) {
	e := newEnv(t, admission.Limits{PerMinute: 60, Burst: 2})
	tok := e.token(t, "alice")

	resp := e.request(t, http.MethodGet, "/v1/metrics", tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	resp.Body.Close()

	resp = e.request(t, http.MethodGet, "/v1/metrics", tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodGet, "/v1/metrics", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	resp.Body.Close()
}

func TestRelationshipEndpoints(t *testing.T) {
	e := newEnv(t, admission.Limits{})
	tok := e.token(t, "alice")

	var ids []string
	for _, content := range []string{"a", "b"} {
		resp := e.request(t, http.MethodPost, "/v1/memories", tok, map[string]any{
			"content": content,
			"scope":   map[string]string{"user_id": "alice", "agent_id": "assistant"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, decode[model.Memory](t, resp).ID)
	}

	resp := e.request(t, http.MethodPost, "/v1/relationships", tok, map[string]any{
		"source_id": ids[0],
		"target_id": ids[1],
		"type":      "relates_to",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rel := decode[model.Relationship](t, resp)

	resp = e.request(t, http.MethodGet, "/v1/memories/"+ids[0]+"/graph?depth=2", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	graphRes := decode[struct {
		Visits []relation.Visit `json:"visits"`
	}](t, resp)
	require.Len(t, graphRes.Visits, 1)
	assert.Equal(t, ids[1], graphRes.Visits[0].ID)

	resp = e.request(t, http.MethodDelete, "/v1/relationships/"+rel.ID, tok, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestBridgeEndpoints(t *testing.T) {
	e := newEnv(t, admission.Limits{})
	tok := e.token(t, "alice")

	resp := e.request(t, http.MethodPost, "/v1/bridges", tok, map[string]any{
		"source_session": "sess-1",
		"target_session": "sess-2",
		"shared_context": []string{"project plans", "deadlines"},
		"scope":          map[string]string{"user_id": "alice"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bridge := decode[model.Memory](t, resp)
	assert.Equal(t, "Connection between sessions sess-1 and sess-2: project plans, deadlines", bridge.Content)
	assert.Equal(t, "bridge", bridge.Metadata["type"])
	assert.InDelta(t, 0.4, bridge.Importance, 1e-9)

	// Listing matches on either end of the bridge.
	for _, sess := range []string{"sess-1", "sess-2"} {
		resp = e.request(t, http.MethodGet, "/v1/bridges/"+sess, tok, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		listed := decode[struct {
			Bridges []model.Memory `json:"bridges"`
		}](t, resp)
		require.Len(t, listed.Bridges, 1)
		assert.Equal(t, bridge.ID, listed.Bridges[0].ID)
	}

	resp = e.request(t, http.MethodGet, "/v1/bridges/sess-9", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[struct {
		Bridges []model.Memory `json:"bridges"`
	}](t, resp)
	assert.Empty(t, listed.Bridges)

	// Both session ids are required.
	resp = e.request(t, http.MethodPost, "/v1/bridges", tok, map[string]any{
		"source_session": "sess-1",
		"scope":          map[string]string{"user_id": "alice"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestBridgeStrengthCapped(t *testing.T) {
	assert.InDelta(t, 0.0, bridgeStrength(0), 1e-9)
	assert.InDelta(t, 0.6, bridgeStrength(3), 1e-9)
	assert.InDelta(t, 1.0, bridgeStrength(5), 1e-9)
	assert.InDelta(t, 1.0, bridgeStrength(12), 1e-9)
}

func TestCompressEndpoint(t *testing.T) {
	e := newEnv(t, admission.Limits{})
	tok := e.token(t, "alice")

	var ids []string
	for _, content := range []string{"drinks oat milk", "avoids caffeine after noon"} {
		resp := e.request(t, http.MethodPost, "/v1/memories", tok, map[string]any{
			"content": content,
			"scope":   map[string]string{"user_id": "alice", "agent_id": "assistant"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, decode[model.Memory](t, resp).ID)
	}

	resp := e.request(t, http.MethodPost, "/v1/relationships", tok, map[string]any{
		"source_id": ids[0],
		"target_id": ids[1],
		"type":      "relates_to",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPost, "/v1/memories/"+ids[0]+"/compress", tok, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	compressed := decode[model.Memory](t, resp)
	assert.Equal(t, "drinks oat milk\navoids caffeine after noon", compressed.Content)
	assert.Equal(t, "compressed", compressed.Metadata["type"])
	assert.Equal(t, ids[0], compressed.Metadata["original_id"])

	// The originals survive and the compressed record is a real memory.
	resp = e.request(t, http.MethodGet, "/v1/memories/"+ids[0], tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = e.request(t, http.MethodGet, "/v1/memories/"+compressed.ID, tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCompressMissingMemory(t *testing.T) {
	e := newEnv(t, admission.Limits{})

	resp := e.request(t, http.MethodPost, "/v1/memories/nope/compress", e.token(t, "alice"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
