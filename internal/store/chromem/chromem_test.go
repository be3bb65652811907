package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bruno-ai/bruno-memory/internal/embeddings/mock"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
	"github.com/bruno-ai/bruno-memory/internal/store/storetest"
)

func newBackend(t *testing.T) store.Store {
	t.Helper()
	return New(mock.New())
}

func TestCompliance(t *testing.T) {
	storetest.Run(t, newBackend)
}

func TestTextQueryRanksBySimilarity(t *testing.T) {
	b := New(mock.New())
	defer b.Close()
	ctx := context.Background()

	coffee := model.NewMemoryEntry("u1", "the user drinks espresso every morning", model.MemoryFact)
	_, err := b.StoreMemory(ctx, coffee)
	require.NoError(t, err)
	hiking := model.NewMemoryEntry("u1", "went hiking in the alps last summer", model.MemoryEpisodic)
	_, err = b.StoreMemory(ctx, hiking)
	require.NoError(t, err)

	got, err := b.RetrieveMemories(ctx, model.MemoryQuery{
		UserID: "u1",
		Text:   "espresso every morning",
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, coffee.ID, got[0].ID)
}

func TestSimilarityThresholdExcludes(t *testing.T) {
	b := New(mock.New())
	defer b.Close()
	ctx := context.Background()

	e := model.NewMemoryEntry("u1", "completely unrelated topic about databases", model.MemoryFact)
	_, err := b.StoreMemory(ctx, e)
	require.NoError(t, err)

	got, err := b.RetrieveMemories(ctx, model.MemoryQuery{
		UserID:              "u1",
		Text:                "ocean tides and moon phases",
		SimilarityThreshold: 0.99,
	})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGatewayFailureFallsBackToRecency(t *testing.T) {
	b := New(mock.NewFailing())
	defer b.Close()
	ctx := context.Background()

	e := model.NewMemoryEntry("u1", "still retrievable without vectors", model.MemoryFact)
	_, err := b.StoreMemory(ctx, e)
	require.NoError(t, err)

	got, err := b.RetrieveMemories(ctx, model.MemoryQuery{UserID: "u1", Text: "retrievable"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
