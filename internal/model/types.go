package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleTool      Role = "tool"
)

// MessageKind identifies the payload type of a message.
type MessageKind string

const (
	MessageText    MessageKind = "text"
	MessageAudio   MessageKind = "audio"
	MessageImage   MessageKind = "image"
	MessageFile    MessageKind = "file"
	MessageCommand MessageKind = "command"
	MessageAction  MessageKind = "action"
)

// MemoryKind classifies a stored memory entry.
type MemoryKind string

const (
	MemoryShortTerm  MemoryKind = "short_term"
	MemoryLongTerm   MemoryKind = "long_term"
	MemoryEpisodic   MemoryKind = "episodic"
	MemorySemantic   MemoryKind = "semantic"
	MemoryProcedural MemoryKind = "procedural"
	MemoryFact       MemoryKind = "fact"
)

// MemoryKinds lists every valid memory kind.
var MemoryKinds = []MemoryKind{
	MemoryShortTerm, MemoryLongTerm, MemoryEpisodic,
	MemorySemantic, MemoryProcedural, MemoryFact,
}

// Message is a single conversational turn. Immutable once stored except
// for metadata annotation.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	UserID         string                 `json:"userId,omitempty"`
	Role           Role                   `json:"role"`
	Content        string                 `json:"content"`
	Kind           MessageKind            `json:"kind"`
	CreatedAt      time.Time              `json:"createdAt"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ParentID       string                 `json:"parentId,omitempty"`
	TokenCount     int                    `json:"tokenCount,omitempty"`
	Model          string                 `json:"model,omitempty"`
	FinishReason   string                 `json:"finishReason,omitempty"`
}

// NewMessage builds a message with a generated id and UTC timestamp.
// ID and timestamp generation is a constructor responsibility so that
// behavior is identical across storage backends.
func NewMessage(conversationID string, role Role, content string) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Kind:           MessageText,
		CreatedAt:      time.Now().UTC(),
	}
}

// MemoryMetadata is embedded in every MemoryEntry.
type MemoryMetadata struct {
	Source          string                 `json:"source,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Confidence      float64                `json:"confidence"`
	Importance      float64                `json:"importance"`
	AccessCount     int                    `json:"accessCount"`
	Embedding       []float32              `json:"embedding,omitempty"`
	RelatedMemories []string               `json:"relatedMemories,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// HasTag reports whether the metadata carries the given tag.
func (m *MemoryMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MemoryEntry is a derived fact persisted on behalf of a user.
type MemoryEntry struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	ConversationID string         `json:"conversationId,omitempty"`
	Content        string         `json:"content"`
	Kind           MemoryKind     `json:"kind"`
	Metadata       MemoryMetadata `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	LastAccessed   time.Time      `json:"lastAccessed"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
}

// NewMemoryEntry builds an entry with a generated id and UTC timestamps.
func NewMemoryEntry(userID, content string, kind MemoryKind) *MemoryEntry {
	now := time.Now().UTC()
	return &MemoryEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		Content:      content,
		Kind:         kind,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
		Metadata: MemoryMetadata{
			Confidence: 1.0,
			Importance: 0.5,
		},
	}
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e *MemoryEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Touch records a retrieval: bumps the access counter and LastAccessed.
func (e *MemoryEntry) Touch(now time.Time) {
	e.Metadata.AccessCount++
	e.LastAccessed = now
}

// Clone returns a deep copy so callers can mutate results freely.
func (e *MemoryEntry) Clone() *MemoryEntry {
	out := *e
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	out.Metadata.RelatedMemories = append([]string(nil), e.Metadata.RelatedMemories...)
	out.Metadata.Embedding = append([]float32(nil), e.Metadata.Embedding...)
	if e.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]interface{}, len(e.Metadata.Extra))
		for k, v := range e.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}
