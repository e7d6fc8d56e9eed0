//go:build integration

// Package surreal integration tests run against a real SurrealDB in a
// container. Build with -tags integration.
package surreal

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/memcord/memcord/internal/model"
)

var testClient *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testClient, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testClient.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testClient.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func wipe(t *testing.T) {
	t.Helper()
	require.NoError(t, testClient.WipeData(context.Background()))
}

func testMemory(id, content string) *model.Memory {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Memory{
		ID:         id,
		Content:    content,
		Metadata:   map[string]any{"topic": "test"},
		Scope:      model.OwnerScope{UserID: "alice", AgentID: "assistant"},
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestNodeRoundTrip(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	m := testMemory("node-1", "hello surreal")
	require.NoError(t, testClient.UpsertNode(ctx, m))

	got, err := testClient.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Scope, got.Scope)
	assert.Equal(t, m.Importance, got.Importance)

	// Upsert replaces in place.
	m.Content = "updated"
	require.NoError(t, testClient.UpsertNode(ctx, m))
	got, err = testClient.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content)

	require.NoError(t, testClient.DeleteNode(ctx, "node-1"))
	_, err = testClient.GetNode(ctx, "node-1")
	assert.Error(t, err)
}

func TestListNodesByScope(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	require.NoError(t, testClient.UpsertNode(ctx, testMemory("a", "one")))
	require.NoError(t, testClient.UpsertNode(ctx, testMemory("b", "two")))

	other := testMemory("c", "three")
	other.Scope.UserID = "bob"
	require.NoError(t, testClient.UpsertNode(ctx, other))

	mems, err := testClient.ListNodes(ctx, model.OwnerScope{UserID: "alice", AgentID: "assistant"}, nil)
	require.NoError(t, err)
	assert.Len(t, mems, 2)

	mems, err = testClient.ListNodes(ctx, model.OwnerScope{UserID: "alice", AgentID: "assistant"}, []string{"a"})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "a", mems[0].ID)
}

func TestEdgeLifecycle(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	require.NoError(t, testClient.UpsertNode(ctx, testMemory("a", "src")))
	require.NoError(t, testClient.UpsertNode(ctx, testMemory("b", "dst")))

	rel := &model.Relationship{
		ID:        "rel-1",
		SourceID:  "a",
		TargetID:  "b",
		Type:      "relates_to",
		Weight:    0.8,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, testClient.CreateEdge(ctx, rel))

	edges, err := testClient.EdgesOf(ctx, "a", nil, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "rel-1", edges[0].ID)
	assert.Equal(t, "b", edges[0].TargetID)

	// Weight filter excludes the edge.
	edges, err = testClient.EdgesOf(ctx, "a", nil, 0.9)
	require.NoError(t, err)
	assert.Empty(t, edges)

	// The edge is visible from both endpoints.
	edges, err = testClient.Neighbors(ctx, []string{"b"}, nil, 0)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	removed, err := testClient.DeleteEdge(ctx, "rel-1")
	require.NoError(t, err)
	assert.Equal(t, "rel-1", removed.ID)

	edges, err = testClient.EdgesOf(ctx, "a", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDeleteEdgesTouching(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, testClient.UpsertNode(ctx, testMemory(id, id)))
	}
	require.NoError(t, testClient.CreateEdge(ctx, &model.Relationship{
		ID: "r1", SourceID: "a", TargetID: "b", Type: "x", Weight: 0.5, CreatedAt: time.Now(),
	}))
	require.NoError(t, testClient.CreateEdge(ctx, &model.Relationship{
		ID: "r2", SourceID: "c", TargetID: "a", Type: "x", Weight: 0.5, CreatedAt: time.Now(),
	}))
	require.NoError(t, testClient.CreateEdge(ctx, &model.Relationship{
		ID: "r3", SourceID: "b", TargetID: "c", Type: "x", Weight: 0.5, CreatedAt: time.Now(),
	}))

	removed, err := testClient.DeleteEdgesTouching(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	edges, err := testClient.Neighbors(ctx, []string{"a", "b", "c"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "r3", edges[0].ID)
}

func TestHistoryEvents(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, action := range []model.HistoryAction{model.ActionCreate, model.ActionUpdate, model.ActionDelete} {
		require.NoError(t, testClient.AppendEvent(ctx, &model.HistoryEvent{
			MemoryID:  "m1",
			Action:    action,
			Actor:     "alice",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Diff: map[string]model.FieldDiff{
				"content": {Old: "x", New: "y"},
			},
		}))
	}

	events, err := testClient.Events(ctx, "m1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.ActionCreate, events[0].Action)
	assert.Equal(t, model.ActionDelete, events[2].Action)

	// Offset pagination.
	events, err = testClient.Events(ctx, "m1", 1, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionUpdate, events[0].Action)

	last, err := testClient.LastEvent(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, model.ActionDelete, last.Action)

	none, err := testClient.LastEvent(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}
