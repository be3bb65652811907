package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bruno-ai/bruno-memory/internal/embeddings/mock"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
	"github.com/bruno-ai/bruno-memory/internal/store/sqlite"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	b, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seed(t *testing.T, st store.Store, userID, content string) *model.MemoryEntry {
	t.Helper()
	e, err := st.StoreMemory(context.Background(), model.NewMemoryEntry(userID, content, model.MemoryFact))
	require.NoError(t, err)
	return e
}

func TestSearchRanksByTermOverlap(t *testing.T) {
	st := newStore(t)
	r := New(st, nil, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	seed(t, st, "u1", "the weather was cold in january")
	best := seed(t, st, "u1", "prefers dark roast coffee in the morning")

	got, err := r.Search(ctx, model.MemoryQuery{UserID: "u1", Text: "dark roast coffee"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, best.ID, got[0].ID)
}

func TestDeterministicTieBreak(t *testing.T) {
	st := newStore(t)
	r := New(st, nil, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	at := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for _, id := range []string{"id-b", "id-a", "id-c"} {
		e := model.NewMemoryEntry("u1", "same content", model.MemoryFact)
		e.ID = id
		e.CreatedAt = at
		e.LastAccessed = at
		_, err := st.StoreMemory(ctx, e)
		require.NoError(t, err)
	}

	got, err := r.Search(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "id-a", got[0].ID)
	require.Equal(t, "id-b", got[1].ID)
	require.Equal(t, "id-c", got[2].ID)
}

func TestEqualTextScoreRanksByLastAccessed(t *testing.T) {
	st := newStore(t)
	r := New(st, nil, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	stale := model.NewMemoryEntry("u1", "likes green tea", model.MemoryFact)
	stale.CreatedAt = now.Add(-48 * time.Hour)
	stale.LastAccessed = stale.CreatedAt
	_, err := st.StoreMemory(ctx, stale)
	require.NoError(t, err)

	fresh := model.NewMemoryEntry("u1", "likes green tea", model.MemoryFact)
	fresh.CreatedAt = now.Add(-time.Hour)
	fresh.LastAccessed = fresh.CreatedAt
	_, err = st.StoreMemory(ctx, fresh)
	require.NoError(t, err)

	got, err := r.Search(ctx, model.MemoryQuery{UserID: "u1", Text: "green tea"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, fresh.ID, got[0].ID)
}

func TestCacheServesUntilInvalidated(t *testing.T) {
	st := newStore(t)
	r := New(st, nil, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	seed(t, st, "u1", "first entry")
	q := model.MemoryQuery{UserID: "u1"}

	got, err := r.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)

	seed(t, st, "u1", "second entry")
	got, err = r.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1, "cached result should not see the new entry yet")

	r.InvalidateUser("u1")
	got, err = r.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestInvalidateUserIsScoped(t *testing.T) {
	st := newStore(t)
	r := New(st, nil, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	seed(t, st, "u1", "entry for one")
	seed(t, st, "u2", "entry for two")

	_, err := r.Search(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	_, err = r.Search(ctx, model.MemoryQuery{UserID: "u2"})
	require.NoError(t, err)

	r.InvalidateUser("u1")
	require.Equal(t, 1, r.cache.ItemCount())
}

func TestSemanticThresholdExcludesIndexedEntries(t *testing.T) {
	st := newStore(t)
	emb := mock.New()
	r := New(st, emb, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	indexed := model.NewMemoryEntry("u1", "databases and indexes", model.MemoryFact)
	vec, err := emb.EmbedText(ctx, indexed.Content)
	require.NoError(t, err)
	indexed.Metadata.Embedding = vec
	_, err = st.StoreMemory(ctx, indexed)
	require.NoError(t, err)

	plain := seed(t, st, "u1", "no vector on this one")

	got, err := r.Search(ctx, model.MemoryQuery{
		UserID:              "u1",
		Text:                "ocean tides and moon phases",
		SimilarityThreshold: 0.99,
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "unindexed entries are never excluded by the threshold")
	require.Equal(t, plain.ID, got[0].ID)
}

func TestGatewayFailureDegradesGracefully(t *testing.T) {
	st := newStore(t)
	r := New(st, mock.NewFailing(), DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	e := seed(t, st, "u1", "still served without embeddings")

	got, err := r.Search(ctx, model.MemoryQuery{UserID: "u1", Text: "embeddings"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, e.ID, got[0].ID)
}

func TestOverlapScore(t *testing.T) {
	require.Equal(t, 1.0, overlapScore("dark roast", "prefers dark roast coffee"))
	require.Equal(t, 0.5, overlapScore("dark tea", "prefers dark roast coffee"))
	require.Equal(t, 0.0, overlapScore("", "anything"))
}
