package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/retriever"
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

func startSession(t *testing.T, st store.Store, userID string) *model.SessionContext {
	t.Helper()
	s, err := st.CreateSession(context.Background(), userID, nil)
	require.NoError(t, err)
	return s
}

func say(t *testing.T, st store.Store, conversationID, userID, content string, role model.Role) {
	t.Helper()
	msg := model.NewMessage(conversationID, role, content)
	msg.UserID = userID
	_, err := st.StoreMessage(context.Background(), msg, conversationID)
	require.NoError(t, err)
}

func TestSlidingWindowKeepsMostRecent(t *testing.T) {
	st := newStore(t)
	b := New(st, nil, zerolog.Nop())
	ctx := context.Background()

	s := startSession(t, st, "u1")
	for i := 0; i < 30; i++ {
		say(t, st, s.ConversationID, "u1", fmt.Sprintf("turn %02d", i), model.RoleUser)
	}

	cc, err := b.Build(ctx, "u1", s.ID, Options{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 10)
	require.Equal(t, "turn 20", cc.Messages[0].Content)
	require.Equal(t, "turn 29", cc.Messages[9].Content)
}

func TestTokenBudgetTrimsOldest(t *testing.T) {
	st := newStore(t)
	b := New(st, nil, zerolog.Nop())
	ctx := context.Background()

	s := startSession(t, st, "u1")
	long := strings.Repeat("word ", 40) // ~50 estimated tokens each
	for i := 0; i < 5; i++ {
		say(t, st, s.ConversationID, "u1", fmt.Sprintf("%s%d", long, i), model.RoleUser)
	}

	cc, err := b.Build(ctx, "u1", s.ID, Options{MaxMessages: 10, TokenBudget: 120})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 2)
	require.True(t, strings.HasSuffix(cc.Messages[1].Content, "4"))
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	st := newStore(t)
	b := New(st, nil, zerolog.Nop())

	_, err := b.Build(context.Background(), "u1", "no-such-session", Options{})
	require.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)

	_, err = b.Build(context.Background(), "nobody", "", Options{})
	require.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func TestImportanceWeightedKeepsSystemMessages(t *testing.T) {
	st := newStore(t)
	b := New(st, nil, zerolog.Nop())
	ctx := context.Background()

	s := startSession(t, st, "u1")
	say(t, st, s.ConversationID, "u1", "you are a helpful assistant", model.RoleSystem)
	for i := 0; i < 25; i++ {
		say(t, st, s.ConversationID, "u1", fmt.Sprintf("chatter %02d", i), model.RoleUser)
	}

	cc, err := b.Build(ctx, "u1", s.ID, Options{
		Strategy:    StrategyImportanceWeighted,
		MaxMessages: 10,
	})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 10)
	require.Equal(t, model.RoleSystem, cc.Messages[0].Role)
	for i := 1; i < len(cc.Messages)-1; i++ {
		require.True(t, cc.Messages[i].CreatedAt.Before(cc.Messages[i+1].CreatedAt) ||
			cc.Messages[i].CreatedAt.Equal(cc.Messages[i+1].CreatedAt),
			"selection must stay chronological")
	}
}

func TestSlidingWindowKeepsNewestWhenOverBudget(t *testing.T) {
	st := newStore(t)
	b := New(st, nil, zerolog.Nop())
	ctx := context.Background()

	s := startSession(t, st, "u1")
	say(t, st, s.ConversationID, "u1", strings.Repeat("way too long ", 100), model.RoleUser)

	cc, err := b.Build(ctx, "u1", s.ID, Options{MaxMessages: 10, TokenBudget: 10})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 1, "the newest message survives an exhausted budget")
}

func TestImportanceWeightedAppliesTokenBudget(t *testing.T) {
	st := newStore(t)
	b := New(st, nil, zerolog.Nop())
	ctx := context.Background()

	s := startSession(t, st, "u1")
	long := strings.Repeat("word ", 20) // ~26 estimated tokens each
	for i := 0; i < 6; i++ {
		say(t, st, s.ConversationID, "u1", fmt.Sprintf("%s%d", long, i), model.RoleUser)
	}

	cc, err := b.Build(ctx, "u1", s.ID, Options{
		Strategy:    StrategyImportanceWeighted,
		MaxMessages: 10,
		TokenBudget: 60,
	})
	require.NoError(t, err)
	require.Len(t, cc.Messages, 2, "budget fits two messages")
	require.True(t, strings.HasSuffix(cc.Messages[0].Content, "4"))
	require.True(t, strings.HasSuffix(cc.Messages[1].Content, "5"))
}

func TestImportanceWeightedSplicesMemoryNotes(t *testing.T) {
	st := newStore(t)
	r := retriever.New(st, nil, retriever.DefaultConfig(), zerolog.Nop())
	b := New(st, r, zerolog.Nop())
	ctx := context.Background()

	e := model.NewMemoryEntry("u1", "prefers dark roast espresso", model.MemorySemantic)
	e.Metadata.Importance = 0.9
	_, err := st.StoreMemory(ctx, e)
	require.NoError(t, err)

	s := startSession(t, st, "u1")
	say(t, st, s.ConversationID, "u1", "hello there", model.RoleUser)
	say(t, st, s.ConversationID, "u1", "what espresso do I like?", model.RoleUser)

	cc, err := b.Build(ctx, "u1", s.ID, Options{
		Strategy:    StrategyImportanceWeighted,
		MaxMessages: 8,
	})
	require.NoError(t, err)
	require.Equal(t, model.RoleSystem, cc.Messages[0].Role)
	require.True(t, strings.HasPrefix(cc.Messages[0].Content, "memory: "))
	require.Equal(t, "what espresso do I like?", cc.Messages[len(cc.Messages)-1].Content)
}

func TestSemanticRelevancePrependsMemoryNotes(t *testing.T) {
	st := newStore(t)
	r := retriever.New(st, nil, retriever.DefaultConfig(), zerolog.Nop())
	b := New(st, r, zerolog.Nop())
	ctx := context.Background()

	_, err := st.StoreMemory(ctx, model.NewMemoryEntry("u1", "prefers dark roast espresso", model.MemorySemantic))
	require.NoError(t, err)

	s := startSession(t, st, "u1")
	say(t, st, s.ConversationID, "u1", "hello there", model.RoleUser)
	say(t, st, s.ConversationID, "u1", "hi, how can I help?", model.RoleAssistant)
	say(t, st, s.ConversationID, "u1", "what espresso do I like?", model.RoleUser)

	cc, err := b.Build(ctx, "u1", s.ID, Options{
		Strategy:    StrategySemanticRelevance,
		MaxMessages: 8,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(cc.Messages), 8)
	require.Equal(t, model.RoleSystem, cc.Messages[0].Role)
	require.True(t, strings.HasPrefix(cc.Messages[0].Content, "memory: "))
	require.Equal(t, "what espresso do I like?", cc.Messages[len(cc.Messages)-1].Content)
}

func TestEstimateTokensPrefersRecordedCounts(t *testing.T) {
	withCount := &model.Message{Content: strings.Repeat("x", 400), TokenCount: 7}
	withoutCount := &model.Message{Content: strings.Repeat("x", 400)}
	require.Equal(t, 7, EstimateTokens([]*model.Message{withCount}))
	require.Equal(t, 101, EstimateTokens([]*model.Message{withoutCount}))
}
