package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation context bounds. Out-of-range values are clamped.
const (
	MinContextMessages     = 1
	MaxContextMessages     = 1000
	DefaultContextMessages = 20
)

// SessionContext tracks one assistant session for a user.
type SessionContext struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"userId"`
	ConversationID string                 `json:"conversationId,omitempty"`
	StartedAt      time.Time              `json:"startedAt"`
	EndedAt        *time.Time             `json:"endedAt,omitempty"`
	LastActivity   time.Time              `json:"lastActivity"`
	Active         bool                   `json:"active"`
	State          map[string]interface{} `json:"state,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewSessionContext starts an active session with generated ids.
// Every session gets its own conversation unless the caller rebinds it.
func NewSessionContext(userID string) *SessionContext {
	now := time.Now().UTC()
	return &SessionContext{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: uuid.New().String(),
		StartedAt:      now,
		LastActivity:   now,
		Active:         true,
	}
}

// End marks the session inactive. Idempotent.
func (s *SessionContext) End(now time.Time) {
	if !s.Active && s.EndedAt != nil {
		return
	}
	s.Active = false
	t := now
	s.EndedAt = &t
}

// ConversationContext is a read-time projection over messages and memory
// entries. It is rebuilt on every context request and never persisted
// verbatim.
type ConversationContext struct {
	ConversationID string                 `json:"conversationId"`
	UserID         string                 `json:"userId"`
	SessionID      string                 `json:"sessionId"`
	Messages       []*Message             `json:"messages"`
	MaxMessages    int                    `json:"maxMessages"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewConversationContext builds an empty bounded context. maxMessages is
// clamped into [MinContextMessages, MaxContextMessages]; zero selects the
// default.
func NewConversationContext(conversationID, userID, sessionID string, maxMessages int) *ConversationContext {
	switch {
	case maxMessages == 0:
		maxMessages = DefaultContextMessages
	case maxMessages < MinContextMessages:
		maxMessages = MinContextMessages
	case maxMessages > MaxContextMessages:
		maxMessages = MaxContextMessages
	}
	return &ConversationContext{
		ConversationID: conversationID,
		UserID:         userID,
		SessionID:      sessionID,
		MaxMessages:    maxMessages,
	}
}

// Append adds a message, evicting the oldest when the bound is reached.
// len(Messages) never exceeds MaxMessages.
func (c *ConversationContext) Append(msg *Message) {
	c.Messages = append(c.Messages, msg)
	if over := len(c.Messages) - c.MaxMessages; over > 0 {
		c.Messages = append([]*Message(nil), c.Messages[over:]...)
	}
}
