package chromemstore

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcord/memcord/internal/embedding"
	"github.com/memcord/memcord/internal/memerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := embedding.NewMock(16).Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func payload(user string) map[string]string {
	return map[string]string{"user_id": user, "agent_id": "assistant"}
}

func TestUpsertFetchDelete(t *testing.T) {
	s, err := New(testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	vec := embed(t, "hello")
	require.NoError(t, s.Upsert(ctx, "m1", vec, payload("alice")))

	got, pl, err := s.Fetch(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got, 16)
	assert.Equal(t, "alice", pl["user_id"])

	// Upsert on an existing id replaces the point.
	require.NoError(t, s.Upsert(ctx, "m1", embed(t, "replaced"), payload("alice")))
	_, _, err = s.Fetch(ctx, "m1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "m1"))
	_, _, err = s.Fetch(ctx, "m1")
	assert.ErrorIs(t, err, memerr.ErrNotFound)

	// Deleting a missing id is not an error.
	assert.NoError(t, s.Delete(ctx, "m1"))
}

func TestQueryRanksAndFilters(t *testing.T) {
	s, err := New(testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "a", embed(t, "coffee brewing notes"), payload("alice")))
	require.NoError(t, s.Upsert(ctx, "b", embed(t, "tax return deadline"), payload("alice")))
	require.NoError(t, s.Upsert(ctx, "c", embed(t, "coffee brewing notes"), payload("bob")))

	hits, err := s.Query(ctx, embed(t, "coffee brewing notes"), 10, map[string]string{"user_id": "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
	for _, h := range hits {
		assert.NotEqual(t, "c", h.ID, "foreign scope filtered out")
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	s, err := New(testLogger())
	require.NoError(t, err)

	hits, err := s.Query(context.Background(), embed(t, "anything"), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQueryKLargerThanCount(t *testing.T) {
	s, err := New(testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "only", embed(t, "single point"), payload("alice")))

	hits, err := s.Query(ctx, embed(t, "single point"), 50, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
