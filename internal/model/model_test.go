package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewMessageDefaults(t *testing.T) {
	m := NewMessage("c1", RoleUser, "hello")
	if m.ID == "" || m.ConversationID != "c1" || m.Kind != MessageText {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.CreatedAt.IsZero() || m.CreatedAt.Location() != time.UTC {
		t.Fatalf("timestamp must be set in UTC: %v", m.CreatedAt)
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(NewMessage("c1", RoleUser, "ok")); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	if err := ValidateMessage(&Message{Role: RoleUser}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty content: %v", err)
	}
	if err := ValidateMessage(&Message{Role: "ghost", Content: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad role: %v", err)
	}
}

func TestNewMemoryEntryDefaults(t *testing.T) {
	e := NewMemoryEntry("u1", "fact", MemoryFact)
	if e.Metadata.Confidence != 1.0 || e.Metadata.Importance != 0.5 {
		t.Fatalf("unexpected defaults: %+v", e.Metadata)
	}
	if e.LastAccessed != e.CreatedAt {
		t.Fatalf("last accessed must start at creation")
	}
}

func TestValidateMemoryEntry(t *testing.T) {
	e := NewMemoryEntry("u1", "fact", MemoryFact)
	if err := ValidateMemoryEntry(e); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	bad := NewMemoryEntry("u1", "fact", "vibes")
	if err := ValidateMemoryEntry(bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad kind: %v", err)
	}

	expired := NewMemoryEntry("u1", "fact", MemoryFact)
	before := expired.CreatedAt.Add(-time.Hour)
	expired.ExpiresAt = &before
	if err := ValidateMemoryEntry(expired); !errors.Is(err, ErrValidation) {
		t.Fatalf("expiry before creation: %v", err)
	}
}

func TestExpiredAndTouch(t *testing.T) {
	e := NewMemoryEntry("u1", "fades", MemoryShortTerm)
	now := time.Now().UTC()
	if e.Expired(now) {
		t.Fatal("entry without expiry must not expire")
	}
	soon := now.Add(time.Minute)
	e.ExpiresAt = &soon
	if e.Expired(now) {
		t.Fatal("not yet expired")
	}
	if !e.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("should be expired")
	}

	e.Touch(now)
	e.Touch(now.Add(time.Second))
	if e.Metadata.AccessCount != 2 || !e.LastAccessed.Equal(now.Add(time.Second)) {
		t.Fatalf("touch: %+v", e)
	}
}

func TestCloneIsDeep(t *testing.T) {
	e := NewMemoryEntry("u1", "original", MemoryFact)
	e.Metadata.Tags = []string{"a"}
	e.Metadata.Extra = map[string]interface{}{"k": "v"}
	e.Metadata.Embedding = []float32{1, 2}

	c := e.Clone()
	c.Metadata.Tags[0] = "changed"
	c.Metadata.Extra["k"] = "changed"
	c.Metadata.Embedding[0] = 9

	if e.Metadata.Tags[0] != "a" || e.Metadata.Extra["k"] != "v" || e.Metadata.Embedding[0] != 1 {
		t.Fatalf("clone aliased the original: %+v", e.Metadata)
	}
}

func TestQueryNormalizeClamps(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, DefaultQueryLimit},
		{-5, MinQueryLimit},
		{5000, MaxQueryLimit},
		{42, 42},
	}
	for _, c := range cases {
		q := MemoryQuery{Limit: c.in}
		q.Normalize()
		if q.Limit != c.want {
			t.Fatalf("limit %d -> %d, want %d", c.in, q.Limit, c.want)
		}
	}
}

func TestQueryValidate(t *testing.T) {
	q := MemoryQuery{UserID: "u1"}
	if err := q.Validate(); err != nil {
		t.Fatalf("valid query rejected: %v", err)
	}
	if err := (&MemoryQuery{}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing user: %v", err)
	}
	if err := (&MemoryQuery{UserID: "u1", MinConfidence: 1.5}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("confidence range: %v", err)
	}
}

func TestQueryMatches(t *testing.T) {
	e := NewMemoryEntry("u1", "likes tea", MemoryFact)
	e.Metadata.Tags = []string{"beverage"}
	e.Metadata.Category = "preferences"
	e.Metadata.Importance = 0.8

	match := MemoryQuery{
		UserID:        "u1",
		Kinds:         []MemoryKind{MemoryFact},
		Categories:    []string{"preferences"},
		Tags:          []string{"beverage"},
		MinImportance: 0.5,
	}
	if !match.Matches(e) {
		t.Fatal("should match")
	}

	miss := match
	miss.Tags = []string{"weather"}
	if miss.Matches(e) {
		t.Fatal("tag filter should exclude")
	}

	otherUser := match
	otherUser.UserID = "u2"
	if otherUser.Matches(e) {
		t.Fatal("user filter should exclude")
	}
}

func TestConversationContextBound(t *testing.T) {
	cc := NewConversationContext("c1", "u1", "s1", 3)
	for i := 0; i < 5; i++ {
		cc.Append(NewMessage("c1", RoleUser, "m"))
	}
	if len(cc.Messages) != 3 {
		t.Fatalf("bound violated: %d", len(cc.Messages))
	}

	clamped := NewConversationContext("c1", "u1", "s1", 100000)
	if clamped.MaxMessages != MaxContextMessages {
		t.Fatalf("max not clamped: %d", clamped.MaxMessages)
	}
	def := NewConversationContext("c1", "u1", "s1", 0)
	if def.MaxMessages != DefaultContextMessages {
		t.Fatalf("default not applied: %d", def.MaxMessages)
	}
}

func TestSessionEndIdempotent(t *testing.T) {
	s := NewSessionContext("u1")
	if !s.Active || s.ConversationID == "" {
		t.Fatalf("unexpected session: %+v", s)
	}
	first := time.Now().UTC()
	s.End(first)
	s.End(first.Add(time.Hour))
	if s.Active || !s.EndedAt.Equal(first) {
		t.Fatalf("end not idempotent: %+v", s)
	}
}
