// Package client provides an HTTP client for the memcord server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/memcord/memcord/internal/config"
	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/fusion"
	"github.com/memcord/memcord/internal/history"
	"github.com/memcord/memcord/internal/model"
	"github.com/memcord/memcord/internal/relation"
)

// Client talks to the memcord HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. An empty endpoint falls back to the
// MEMCORD_SERVER_URL env var, then to localhost. The bearer token comes
// from MEMCORD_TOKEN when not set explicitly.
func New(endpoint, token string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("MEMCORD_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost" + config.DefaultListenAddr
	}
	if token == "" {
		token = os.Getenv("MEMCORD_TOKEN")
	}

	timeout := 30 * time.Second
	if t := os.Getenv("MEMCORD_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body errorBody
		msg := resp.Status
		if derr := json.NewDecoder(resp.Body).Decode(&body); derr == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

// Add creates a memory.
func (c *Client) Add(ctx context.Context, in coordinator.AddInput) (*model.Memory, error) {
	var mem model.Memory
	if err := c.do(ctx, http.MethodPost, "/v1/memories", in, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// Get fetches a memory by id.
func (c *Client) Get(ctx context.Context, id string) (*model.Memory, error) {
	var mem model.Memory
	if err := c.do(ctx, http.MethodGet, "/v1/memories/"+url.PathEscape(id), nil, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// Update patches a memory.
func (c *Client) Update(ctx context.Context, id string, in coordinator.UpdateInput) (*model.Memory, error) {
	var mem model.Memory
	if err := c.do(ctx, http.MethodPatch, "/v1/memories/"+url.PathEscape(id), in, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// Delete removes a memory.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/memories/"+url.PathEscape(id), nil, nil)
}

// SearchRequest mirrors the server's query payload.
type SearchRequest struct {
	Query   string            `json:"query,omitempty"`
	Context string            `json:"context,omitempty"`
	Scope   model.OwnerScope  `json:"scope"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// Search runs a semantic search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*fusion.Result, error) {
	var res fusion.Result
	if err := c.do(ctx, http.MethodPost, "/v1/search", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Suggest asks for proactive candidates for a context snippet.
func (c *Client) Suggest(ctx context.Context, req SearchRequest) (*fusion.Result, error) {
	var res fusion.Result
	if err := c.do(ctx, http.MethodPost, "/v1/suggestions", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Link creates a relationship between two memories.
func (c *Client) Link(ctx context.Context, in relation.AddInput) (*model.Relationship, error) {
	var rel model.Relationship
	if err := c.do(ctx, http.MethodPost, "/v1/relationships", in, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// History reads a page of a memory's event log.
func (c *Client) History(ctx context.Context, id, cursor string, limit int) (*history.Page, error) {
	path := "/v1/memories/" + url.PathEscape(id) + "/history"
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page history.Page
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
