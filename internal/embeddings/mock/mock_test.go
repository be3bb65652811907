package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministic(t *testing.T) {
	e := New()
	ctx := context.Background()

	a, err := e.EmbedText(ctx, "the quick brown fox")
	require.NoError(t, err)
	b, err := e.EmbedText(ctx, "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, e.Dimension())
}

func TestOverlappingTextIsCloser(t *testing.T) {
	e := New()
	ctx := context.Background()

	base, err := e.EmbedText(ctx, "coffee in the morning")
	require.NoError(t, err)
	near, err := e.EmbedText(ctx, "espresso coffee in the morning")
	require.NoError(t, err)
	far, err := e.EmbedText(ctx, "quarterly revenue projections")
	require.NoError(t, err)

	require.Greater(t, e.Similarity(base, near), e.Similarity(base, far))
}

func TestBatchPreservesOrder(t *testing.T) {
	e := New()
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	vecs, err := e.EmbedTexts(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, text := range texts {
		single, err := e.EmbedText(ctx, text)
		require.NoError(t, err)
		require.Equal(t, single, vecs[i])
	}
}

func TestFailingGateway(t *testing.T) {
	e := NewFailing()
	_, err := e.EmbedText(context.Background(), "anything")
	require.Error(t, err)
	require.Error(t, e.CheckConnection(context.Background()))
}
