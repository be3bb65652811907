package priority

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

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

func entryAt(userID, content string, age time.Duration, importance float64) *model.MemoryEntry {
	e := model.NewMemoryEntry(userID, content, model.MemoryFact)
	at := time.Now().UTC().Add(-age)
	e.CreatedAt = at
	e.LastAccessed = at
	e.Metadata.Importance = importance
	return e
}

func TestScoreOrdering(t *testing.T) {
	s := NewScorer(DefaultWeights(), 7*24*time.Hour)
	now := time.Now().UTC()

	fresh := entryAt("u1", "fresh", time.Hour, 0.5)
	stale := entryAt("u1", "stale", 90*24*time.Hour, 0.5)
	require.Greater(t, s.Score(fresh, now), s.Score(stale, now))

	vital := entryAt("u1", "vital", 90*24*time.Hour, 1.0)
	require.Greater(t, s.Score(vital, now), s.Score(stale, now))

	popular := entryAt("u1", "popular", 90*24*time.Hour, 0.5)
	popular.Metadata.AccessCount = 50
	require.Greater(t, s.Score(popular, now), s.Score(stale, now))
}

func TestScoreIsBounded(t *testing.T) {
	s := NewScorer(DefaultWeights(), 7*24*time.Hour)
	now := time.Now().UTC()

	max := entryAt("u1", "max", 0, 1.0)
	max.Metadata.AccessCount = 10_000
	max.Metadata.Confidence = 1.0
	got := s.Score(max, now)
	require.LessOrEqual(t, got, 1.0)
	require.Greater(t, got, 0.9)
}

func TestPruneRemovesLowValueEntries(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.StoreMemory(ctx, entryAt("u1", "keep me", time.Hour, 0.9))
	require.NoError(t, err)
	stale, err := st.StoreMemory(ctx, entryAt("u1", "drop me", 365*24*time.Hour, 0.0))
	require.NoError(t, err)
	stale.Metadata.Confidence = 0
	_, err = st.StoreMemory(ctx, stale)
	require.NoError(t, err)

	p := NewPruner(st, NewScorer(DefaultWeights(), 7*24*time.Hour), 0.3, zerolog.Nop())
	report, err := p.Prune(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, report.Scanned)
	require.Equal(t, 1, report.Pruned)
	require.Equal(t, 1, report.Kept)

	left, err := st.RetrieveMemories(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "keep me", left[0].Content)
}

func TestPruneKeepsReferencedEntries(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	// Scores between floor (0.15) and threshold (0.3): old but not worthless.
	target := entryAt("u1", "referenced target", 120*24*time.Hour, 0.5)
	target.Metadata.Confidence = 0.5
	target, err := st.StoreMemory(ctx, target)
	require.NoError(t, err)

	anchor := entryAt("u1", "anchor", time.Hour, 0.9)
	anchor.Metadata.RelatedMemories = []string{target.ID}
	_, err = st.StoreMemory(ctx, anchor)
	require.NoError(t, err)

	p := NewPruner(st, NewScorer(DefaultWeights(), 7*24*time.Hour), 0.3, zerolog.Nop())
	report, err := p.Prune(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 0, report.Pruned)
	require.Equal(t, 2, report.Kept)
}

func TestPruneRemovesDanglingReferenceBeforeTarget(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	// Under the floor: deleted even though referenced.
	target := entryAt("u1", "worthless target", 365*24*time.Hour, 0.0)
	target.Metadata.Confidence = 0
	target, err := st.StoreMemory(ctx, target)
	require.NoError(t, err)

	anchor := entryAt("u1", "anchor", time.Hour, 0.9)
	anchor.Metadata.RelatedMemories = []string{target.ID}
	anchor, err = st.StoreMemory(ctx, anchor)
	require.NoError(t, err)

	p := NewPruner(st, NewScorer(DefaultWeights(), 7*24*time.Hour), 0.3, zerolog.Nop())
	report, err := p.Prune(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Pruned)

	left, err := st.RetrieveMemories(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, anchor.ID, left[0].ID)
	require.Empty(t, left[0].Metadata.RelatedMemories)
}
