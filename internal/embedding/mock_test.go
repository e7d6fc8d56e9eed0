package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDeterministic(t *testing.T) {
	m := NewMock(32)
	ctx := context.Background()

	a1, err := m.Embed(ctx, "same text")
	require.NoError(t, err)
	a2, err := m.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, a1, a2, "same input yields the same vector")

	b, err := m.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
}

func TestMockUnitNorm(t *testing.T) {
	m := NewMock(64)

	v, err := m.Embed(context.Background(), "normalize me")
	require.NoError(t, err)
	require.Len(t, v, 64)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockBatch(t *testing.T) {
	m := NewMock(16)

	vecs, err := m.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := m.Embed(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1], "batch agrees with single embedding")
}

func TestMockGenerate(t *testing.T) {
	m := NewMock(16)

	out, err := m.Generate(context.Background(), "what happened monday?")
	require.NoError(t, err)
	assert.Equal(t, "mock response: what happened monday?", out)
}
