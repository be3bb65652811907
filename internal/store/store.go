// Package store defines the storage contract every memory backend must
// satisfy. Implementations live under internal/store/<driver>/ (sqlite,
// postgres, redis, chromem) and are resolved once at startup by the
// factory, never during request handling.
package store

import (
	"context"

	"github.com/bruno-ai/bruno-memory/internal/model"
)

// Store is the single integration surface for a storage backend.
//
// All methods are safe for concurrent use across conversations and users.
// Within one conversation StoreMessage calls are serialized by the backend
// so retrieval observes a consistent append order; no ordering is
// guaranteed across conversations.
//
// Failures are classified with the model sentinel errors: ErrNotFound,
// ErrValidation, ErrConflict and ErrUnavailable.
type Store interface {
	// StoreMessage persists a message. When the message has no
	// conversation id it is bound to conversationID. Missing id and
	// timestamp are assigned. Durable at least once after return.
	// Bumps LastActivity on the conversation's active sessions.
	StoreMessage(ctx context.Context, msg *model.Message, conversationID string) (*model.Message, error)

	// RetrieveMessages returns the conversation's messages in insertion
	// order. limit > 0 caps the result to the most recent limit messages,
	// still in chronological order.
	RetrieveMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)

	// SearchMessages matches queryText against message content,
	// optionally scoped to a user. Results are ranked by backend-native
	// relevance. limit <= 0 selects the default of 10.
	SearchMessages(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error)

	// StoreMemory persists a memory entry, assigning id and timestamps
	// when absent. Writing an existing id replaces the entry (idempotent).
	StoreMemory(ctx context.Context, entry *model.MemoryEntry) (*model.MemoryEntry, error)

	// RetrieveMemories applies the query's hard filters and returns
	// matching entries, most recently accessed first, truncated to the
	// clamped limit. Expired entries are excluded unless IncludeExpired.
	// Every served entry has its access count and LastAccessed bumped
	// unless the query sets SkipAccessUpdate.
	RetrieveMemories(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error)

	// TouchMemories records a serving read for the given entries: bumps
	// the access count and LastAccessed. Unknown ids are ignored. Used by
	// layers that fetch more candidates than they serve.
	TouchMemories(ctx context.Context, ids []string) error

	// DeleteMemory removes an entry. Deleting an unknown id is a no-op
	// success.
	DeleteMemory(ctx context.Context, id string) error

	// ClearHistory deletes the conversation's messages. When keepSystem
	// is true, system-role messages survive.
	ClearHistory(ctx context.Context, conversationID string, keepSystem bool) error

	// CreateSession starts a new active session for the user.
	CreateSession(ctx context.Context, userID string, metadata map[string]interface{}) (*model.SessionContext, error)

	// GetSession returns the session, or (nil, nil) when unknown.
	GetSession(ctx context.Context, sessionID string) (*model.SessionContext, error)

	// EndSession marks the session ended and inactive. Idempotent;
	// ending an unknown session returns ErrNotFound.
	EndSession(ctx context.Context, sessionID string) error

	// ActiveSession resolves the user's most recently active session by
	// LastActivity, ties broken by larger id. ErrNotFound when the user
	// has no active session.
	ActiveSession(ctx context.Context, userID string) (*model.SessionContext, error)

	// GetContext returns the current conversation context for the user.
	// With an empty sessionID the most-recently-active session (by
	// LastActivity) is resolved; ErrNotFound when the user has none.
	GetContext(ctx context.Context, userID, sessionID string) (*model.ConversationContext, error)

	// GetStatistics returns aggregate counts for the user. Keys include
	// message_count, memory_count, memory_count_<kind>, session_count
	// plus backend-specific size metrics.
	GetStatistics(ctx context.Context, userID string) (map[string]interface{}, error)

	// HealthPing reports backend reachability.
	HealthPing(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
