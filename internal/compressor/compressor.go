// Package compressor folds runs of conversation messages into episodic
// memory entries via a pluggable Summarizer.
package compressor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Summarizer condenses a run of messages into one short text. An LLM
// adapter implements it in production; tests use a canned one.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []*model.Message) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, msgs []*model.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, msgs []*model.Message) (string, error) {
	return f(ctx, msgs)
}

// Compressor writes summaries back to the store as episodic memories.
type Compressor struct {
	store      store.Store
	summarizer Summarizer
	log        zerolog.Logger
}

// New builds a compressor. The summarizer must not be nil.
func New(st store.Store, s Summarizer, log zerolog.Logger) *Compressor {
	return &Compressor{store: st, summarizer: s, log: log}
}

// Compress summarizes the messages into one episodic entry. The entry
// records the compressed id range and message count in its metadata.
// Summarizer failure writes nothing and surfaces as
// ErrCapabilityUnavailable.
func (c *Compressor) Compress(ctx context.Context, conversationID string, msgs []*model.Message) (*model.MemoryEntry, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: nothing to compress", model.ErrValidation)
	}
	userID := ""
	for _, m := range msgs {
		if m.UserID != "" {
			userID = m.UserID
			break
		}
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: messages carry no user id", model.ErrValidation)
	}

	summary, err := c.summarizer.Summarize(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("%w: summarize: %v", model.ErrCapabilityUnavailable, err)
	}

	entry := model.NewMemoryEntry(userID, summary, model.MemoryEpisodic)
	entry.ConversationID = conversationID
	entry.Metadata.Source = "compressor"
	entry.Metadata.Extra = map[string]interface{}{
		"compressed_from":  msgs[0].ID,
		"compressed_to":    msgs[len(msgs)-1].ID,
		"compressed_count": len(msgs),
		"conversation_id":  conversationID,
	}

	stored, err := c.store.StoreMemory(ctx, entry)
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("conversation_id", conversationID).
		Int("messages", len(msgs)).
		Str("memory_id", stored.ID).
		Msg("compressed message run")
	return stored, nil
}

// CompactConversation compresses everything except the most recent
// keepRecent messages, then clears the compressed portion of the history.
// System messages survive the clear. Returns the written entry, or nil
// when there is nothing to compact.
func (c *Compressor) CompactConversation(ctx context.Context, conversationID string, keepRecent int) (*model.MemoryEntry, error) {
	if keepRecent < 0 {
		return nil, fmt.Errorf("%w: keepRecent must be >= 0", model.ErrValidation)
	}
	history, err := c.store.RetrieveMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}

	cutoff := len(history) - keepRecent
	if cutoff <= 0 {
		return nil, nil
	}
	old := make([]*model.Message, 0, cutoff)
	for _, m := range history[:cutoff] {
		if m.Role == model.RoleSystem {
			continue
		}
		old = append(old, m)
	}
	if len(old) == 0 {
		return nil, nil
	}

	entry, err := c.Compress(ctx, conversationID, old)
	if err != nil {
		return nil, err
	}

	// Rebuild the tail: clear everything but system messages, then
	// replay the kept run.
	kept := history[cutoff:]
	if err := c.store.ClearHistory(ctx, conversationID, true); err != nil {
		return entry, err
	}
	for _, m := range kept {
		if m.Role == model.RoleSystem {
			continue
		}
		replay := *m
		replay.ID = ""
		if _, err := c.store.StoreMessage(ctx, &replay, conversationID); err != nil {
			return entry, err
		}
	}
	return entry, nil
}
