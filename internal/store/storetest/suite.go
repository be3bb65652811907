// Package storetest holds a compliance suite run against every storage
// backend. Implementations provide a clean, isolated store from makeStore.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Run exercises the storage contract against a backend.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("MessageOrder", func(t *testing.T) { testMessageOrder(t, makeStore(t)) })
	t.Run("MessageLimit", func(t *testing.T) { testMessageLimit(t, makeStore(t)) })
	t.Run("MessageBinding", func(t *testing.T) { testMessageBinding(t, makeStore(t)) })
	t.Run("SearchMessages", func(t *testing.T) { testSearchMessages(t, makeStore(t)) })
	t.Run("ClearHistory", func(t *testing.T) { testClearHistory(t, makeStore(t)) })
	t.Run("MemoryFilters", func(t *testing.T) { testMemoryFilters(t, makeStore(t)) })
	t.Run("MemoryExpiry", func(t *testing.T) { testMemoryExpiry(t, makeStore(t)) })
	t.Run("MemoryTouch", func(t *testing.T) { testMemoryTouch(t, makeStore(t)) })
	t.Run("TolerantDelete", func(t *testing.T) { testTolerantDelete(t, makeStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, makeStore(t)) })
	t.Run("SessionActivity", func(t *testing.T) { testSessionActivity(t, makeStore(t)) })
	t.Run("ContextBound", func(t *testing.T) { testContextBound(t, makeStore(t)) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, makeStore(t)) })
}

func newUser() string { return "u-" + uuid.New().String() }
func newConv() string { return "c-" + uuid.New().String() }

func mustStoreMsg(t *testing.T, s store.Store, conv string, role model.Role, content string) *model.Message {
	t.Helper()
	m, err := s.StoreMessage(context.Background(), model.NewMessage(conv, role, content), conv)
	if err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	return m
}

func testMessageOrder(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	conv := newConv()

	var ids []string
	for i := 0; i < 5; i++ {
		m := mustStoreMsg(t, s, conv, model.RoleUser, fmt.Sprintf("message %d", i))
		ids = append(ids, m.ID)
	}

	got, err := s.RetrieveMessages(ctx, conv, 0)
	if err != nil {
		t.Fatalf("RetrieveMessages: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("RetrieveMessages: n=%d want 5", len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Fatalf("insertion order violated at %d: got %s want %s", i, m.ID, ids[i])
		}
	}
}

func testMessageLimit(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	conv := newConv()

	for i := 0; i < 10; i++ {
		mustStoreMsg(t, s, conv, model.RoleUser, fmt.Sprintf("m%d", i))
	}
	got, err := s.RetrieveMessages(ctx, conv, 3)
	if err != nil {
		t.Fatalf("RetrieveMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit: n=%d want 3", len(got))
	}
	// Most recent three, chronological.
	want := []string{"m7", "m8", "m9"}
	for i, m := range got {
		if m.Content != want[i] {
			t.Fatalf("limit window at %d: got %q want %q", i, m.Content, want[i])
		}
	}
}

func testMessageBinding(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	conv := newConv()

	msg := &model.Message{Role: model.RoleUser, Content: "unbound"}
	stored, err := s.StoreMessage(ctx, msg, conv)
	if err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if stored.ConversationID != conv {
		t.Fatalf("conversation binding: got %q want %q", stored.ConversationID, conv)
	}
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Fatalf("id/timestamp not assigned: %+v", stored)
	}
}

func testSearchMessages(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	conv := newConv()
	user := newUser()

	for _, c := range []string{"the weather in Paris", "gophers love concurrency", "paris is rainy today"} {
		m := model.NewMessage(conv, model.RoleUser, c)
		m.UserID = user
		if _, err := s.StoreMessage(ctx, m, conv); err != nil {
			t.Fatalf("StoreMessage: %v", err)
		}
	}

	got, err := s.SearchMessages(ctx, "paris", user, 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchMessages: n=%d want 2", len(got))
	}
	for _, m := range got {
		if m.UserID != user {
			t.Fatalf("user scope violated: %+v", m)
		}
	}
}

func testClearHistory(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	conv := newConv()

	mustStoreMsg(t, s, conv, model.RoleSystem, "you are a helpful assistant")
	mustStoreMsg(t, s, conv, model.RoleUser, "hello")
	mustStoreMsg(t, s, conv, model.RoleAssistant, "hi there")

	if err := s.ClearHistory(ctx, conv, true); err != nil {
		t.Fatalf("ClearHistory keepSystem: %v", err)
	}
	got, err := s.RetrieveMessages(ctx, conv, 0)
	if err != nil {
		t.Fatalf("RetrieveMessages: %v", err)
	}
	if len(got) != 1 || got[0].Role != model.RoleSystem {
		t.Fatalf("keepSystem left %d messages, first role %v", len(got), got)
	}

	if err := s.ClearHistory(ctx, conv, false); err != nil {
		t.Fatalf("ClearHistory all: %v", err)
	}
	got, err = s.RetrieveMessages(ctx, conv, 0)
	if err != nil {
		t.Fatalf("RetrieveMessages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("full clear left %d messages", len(got))
	}
}

func testMemoryFilters(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	fact := model.NewMemoryEntry(user, "likes espresso", model.MemoryFact)
	fact.Metadata.Category = "preferences"
	fact.Metadata.Tags = []string{"coffee"}
	fact.Metadata.Importance = 0.9
	if _, err := s.StoreMemory(ctx, fact); err != nil {
		t.Fatalf("StoreMemory fact: %v", err)
	}
	episodic := model.NewMemoryEntry(user, "went hiking last weekend", model.MemoryEpisodic)
	episodic.Metadata.Importance = 0.2
	if _, err := s.StoreMemory(ctx, episodic); err != nil {
		t.Fatalf("StoreMemory episodic: %v", err)
	}
	other := model.NewMemoryEntry(newUser(), "belongs to someone else", model.MemoryFact)
	if _, err := s.StoreMemory(ctx, other); err != nil {
		t.Fatalf("StoreMemory other: %v", err)
	}

	got, err := s.RetrieveMemories(ctx, model.MemoryQuery{
		UserID: user,
		Kinds:  []model.MemoryKind{model.MemoryFact},
		Tags:   []string{"coffee"},
	})
	if err != nil {
		t.Fatalf("RetrieveMemories: %v", err)
	}
	if len(got) != 1 || got[0].ID != fact.ID {
		t.Fatalf("hard filters: got %+v", got)
	}

	got, err = s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user, MinImportance: 0.5})
	if err != nil {
		t.Fatalf("RetrieveMemories importance: %v", err)
	}
	if len(got) != 1 || got[0].ID != fact.ID {
		t.Fatalf("importance filter: got %+v", got)
	}

	got, err = s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user, Limit: 1})
	if err != nil {
		t.Fatalf("RetrieveMemories limit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit: n=%d want 1", len(got))
	}
}

func testMemoryExpiry(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	e := model.NewMemoryEntry(user, "stale note", model.MemoryShortTerm)
	e.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	e.LastAccessed = e.CreatedAt
	exp := time.Now().UTC().Add(-time.Hour)
	e.ExpiresAt = &exp
	if _, err := s.StoreMemory(ctx, e); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	got, err := s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user})
	if err != nil {
		t.Fatalf("RetrieveMemories: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expired entry served: %+v", got)
	}

	got, err = s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user, IncludeExpired: true})
	if err != nil {
		t.Fatalf("RetrieveMemories includeExpired: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("includeExpired: n=%d want 1", len(got))
	}
}

func testMemoryTouch(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	e := model.NewMemoryEntry(user, "remember me", model.MemoryLongTerm)
	if _, err := s.StoreMemory(ctx, e); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	first, err := s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user})
	if err != nil || len(first) != 1 {
		t.Fatalf("first retrieve: n=%d err=%v", len(first), err)
	}
	second, err := s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user})
	if err != nil || len(second) != 1 {
		t.Fatalf("second retrieve: n=%d err=%v", len(second), err)
	}
	if second[0].Metadata.AccessCount < 2 {
		t.Fatalf("access count not bumped: %d", second[0].Metadata.AccessCount)
	}
	if second[0].LastAccessed.Before(first[0].LastAccessed) {
		t.Fatalf("last accessed went backwards")
	}

	third, err := s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user, SkipAccessUpdate: true})
	if err != nil || len(third) != 1 {
		t.Fatalf("third retrieve: n=%d err=%v", len(third), err)
	}
	fourth, err := s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user, SkipAccessUpdate: true})
	if err != nil || len(fourth) != 1 {
		t.Fatalf("fourth retrieve: n=%d err=%v", len(fourth), err)
	}
	if fourth[0].Metadata.AccessCount != third[0].Metadata.AccessCount {
		t.Fatalf("maintenance read bumped access count: %d -> %d",
			third[0].Metadata.AccessCount, fourth[0].Metadata.AccessCount)
	}

	if err := s.TouchMemories(ctx, []string{e.ID, "no-such-id"}); err != nil {
		t.Fatalf("TouchMemories: %v", err)
	}
	fifth, err := s.RetrieveMemories(ctx, model.MemoryQuery{UserID: user, SkipAccessUpdate: true})
	if err != nil || len(fifth) != 1 {
		t.Fatalf("fifth retrieve: n=%d err=%v", len(fifth), err)
	}
	if fifth[0].Metadata.AccessCount != fourth[0].Metadata.AccessCount+1 {
		t.Fatalf("explicit touch not recorded: %d -> %d",
			fourth[0].Metadata.AccessCount, fifth[0].Metadata.AccessCount)
	}
}

func testTolerantDelete(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	e := model.NewMemoryEntry(user, "disposable", model.MemoryShortTerm)
	if _, err := s.StoreMemory(ctx, e); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if err := s.DeleteMemory(ctx, e.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := s.DeleteMemory(ctx, e.ID); err != nil {
		t.Fatalf("DeleteMemory second call must be no-op: %v", err)
	}
	if err := s.DeleteMemory(ctx, "never-existed"); err != nil {
		t.Fatalf("DeleteMemory unknown id must be no-op: %v", err)
	}
}

func testSessions(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	sess, err := s.CreateSession(ctx, user, map[string]interface{}{"channel": "cli"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" || !sess.Active {
		t.Fatalf("CreateSession: %+v", sess)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil || got == nil || got.UserID != user {
		t.Fatalf("GetSession: got=%+v err=%v", got, err)
	}

	missing, err := s.GetSession(ctx, "no-such-session")
	if err != nil || missing != nil {
		t.Fatalf("GetSession unknown must be (nil, nil): got=%+v err=%v", missing, err)
	}

	if err := s.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := s.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("EndSession must be idempotent: %v", err)
	}
	got, err = s.GetSession(ctx, sess.ID)
	if err != nil || got == nil || got.Active || got.EndedAt == nil {
		t.Fatalf("session not ended: got=%+v err=%v", got, err)
	}

	if err := s.EndSession(ctx, "no-such-session"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("EndSession unknown: err=%v want ErrNotFound", err)
	}
}

func testSessionActivity(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	older, err := s.CreateSession(ctx, user, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	newer, err := s.CreateSession(ctx, user, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Idle user: creation time is the only activity.
	got, err := s.ActiveSession(ctx, user)
	if err != nil || got.ID != newer.ID {
		t.Fatalf("ActiveSession idle: got=%+v err=%v want %s", got, err, newer.ID)
	}

	time.Sleep(5 * time.Millisecond)
	mustStoreMsg(t, s, older.ConversationID, model.RoleUser, "picking this thread back up")

	got, err = s.ActiveSession(ctx, user)
	if err != nil || got.ID != older.ID {
		t.Fatalf("activity must re-rank sessions: got=%+v err=%v want %s", got, err, older.ID)
	}
	if !got.LastActivity.After(older.LastActivity) {
		t.Fatalf("LastActivity not bumped: %v -> %v", older.LastActivity, got.LastActivity)
	}
	cc, err := s.GetContext(ctx, user, "")
	if err != nil || cc.SessionID != older.ID {
		t.Fatalf("GetContext must follow activity: cc=%+v err=%v", cc, err)
	}

	if _, err := s.ActiveSession(ctx, "user-without-sessions"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ActiveSession without sessions: err=%v want ErrNotFound", err)
	}
}

func testContextBound(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()

	sess, err := s.CreateSession(ctx, user, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 25; i++ {
		mustStoreMsg(t, s, sess.ConversationID, model.RoleUser, fmt.Sprintf("turn %02d", i))
	}

	cc, err := s.GetContext(ctx, user, "")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(cc.Messages) != model.DefaultContextMessages {
		t.Fatalf("context bound: n=%d want %d", len(cc.Messages), model.DefaultContextMessages)
	}
	// The 20 most recent of 25, chronological.
	if cc.Messages[0].Content != "turn 05" || cc.Messages[19].Content != "turn 24" {
		t.Fatalf("context window: first=%q last=%q", cc.Messages[0].Content, cc.Messages[19].Content)
	}

	if _, err := s.GetContext(ctx, "user-without-sessions", ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetContext without session: err=%v want ErrNotFound", err)
	}
}

func testStatistics(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	user := newUser()
	conv := newConv()

	m := model.NewMessage(conv, model.RoleUser, "hello stats")
	m.UserID = user
	if _, err := s.StoreMessage(ctx, m, conv); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if _, err := s.StoreMemory(ctx, model.NewMemoryEntry(user, "a fact", model.MemoryFact)); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if _, err := s.CreateSession(ctx, user, nil); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	stats, err := s.GetStatistics(ctx, user)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	for _, key := range []string{"message_count", "memory_count", "session_count"} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("statistics missing %q: %v", key, stats)
		}
	}
}
