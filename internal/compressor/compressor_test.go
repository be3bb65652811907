package compressor

import (
	"context"
	"errors"
	"fmt"
	"testing"

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

func canned(summary string) Summarizer {
	return SummarizerFunc(func(_ context.Context, _ []*model.Message) (string, error) {
		return summary, nil
	})
}

func failing() Summarizer {
	return SummarizerFunc(func(_ context.Context, _ []*model.Message) (string, error) {
		return "", errors.New("model offline")
	})
}

func say(t *testing.T, st store.Store, conv, user, content string, role model.Role) *model.Message {
	t.Helper()
	msg := model.NewMessage(conv, role, content)
	msg.UserID = user
	stored, err := st.StoreMessage(context.Background(), msg, conv)
	require.NoError(t, err)
	return stored
}

func TestCompressWritesEpisodicEntry(t *testing.T) {
	st := newStore(t)
	c := New(st, canned("they planned a trip to lisbon"), zerolog.Nop())
	ctx := context.Background()

	var msgs []*model.Message
	for i := 0; i < 4; i++ {
		msgs = append(msgs, say(t, st, "c1", "u1", fmt.Sprintf("msg %d", i), model.RoleUser))
	}

	entry, err := c.Compress(ctx, "c1", msgs)
	require.NoError(t, err)
	require.Equal(t, model.MemoryEpisodic, entry.Kind)
	require.Equal(t, "u1", entry.UserID)
	require.Equal(t, "they planned a trip to lisbon", entry.Content)
	require.Equal(t, "compressor", entry.Metadata.Source)
	require.Equal(t, msgs[0].ID, entry.Metadata.Extra["compressed_from"])
	require.Equal(t, msgs[3].ID, entry.Metadata.Extra["compressed_to"])
}

func TestCompressSummarizerFailureWritesNothing(t *testing.T) {
	st := newStore(t)
	c := New(st, failing(), zerolog.Nop())
	ctx := context.Background()

	msgs := []*model.Message{say(t, st, "c1", "u1", "hello", model.RoleUser)}
	_, err := c.Compress(ctx, "c1", msgs)
	require.True(t, errors.Is(err, model.ErrCapabilityUnavailable), "got %v", err)

	mems, err := st.RetrieveMemories(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Empty(t, mems)
}

func TestCompressRejectsEmptyRun(t *testing.T) {
	st := newStore(t)
	c := New(st, canned("x"), zerolog.Nop())

	_, err := c.Compress(context.Background(), "c1", nil)
	require.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
}

func TestCompactConversation(t *testing.T) {
	st := newStore(t)
	c := New(st, canned("early small talk"), zerolog.Nop())
	ctx := context.Background()

	say(t, st, "c1", "u1", "you are a helpful assistant", model.RoleSystem)
	for i := 0; i < 10; i++ {
		say(t, st, "c1", "u1", fmt.Sprintf("turn %d", i), model.RoleUser)
	}

	entry, err := c.CompactConversation(ctx, "c1", 3)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "early small talk", entry.Content)

	left, err := st.RetrieveMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, left, 4)
	require.Equal(t, model.RoleSystem, left[0].Role)
	require.Equal(t, "turn 7", left[1].Content)
	require.Equal(t, "turn 9", left[3].Content)

	mems, err := st.RetrieveMemories(ctx, model.MemoryQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.EqualValues(t, 7, mems[0].Metadata.Extra["compressed_count"])
}

func TestCompactNothingToDo(t *testing.T) {
	st := newStore(t)
	c := New(st, canned("unused"), zerolog.Nop())
	ctx := context.Background()

	say(t, st, "c1", "u1", "only message", model.RoleUser)
	entry, err := c.CompactConversation(ctx, "c1", 5)
	require.NoError(t, err)
	require.Nil(t, entry)
}
