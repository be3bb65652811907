// Package memoryengine wires configuration, storage, embeddings,
// retrieval, context building, retention and compression into one
// conversational memory engine.
package memoryengine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bruno-ai/bruno-memory/internal/compressor"
	"github.com/bruno-ai/bruno-memory/internal/config"
	"github.com/bruno-ai/bruno-memory/internal/contextbuilder"
	"github.com/bruno-ai/bruno-memory/internal/embeddings"
	"github.com/bruno-ai/bruno-memory/internal/factory"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/platform/logger"
	"github.com/bruno-ai/bruno-memory/internal/priority"
	"github.com/bruno-ai/bruno-memory/internal/retriever"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Engine is the public facade over the memory subsystem. All operations
// are safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      store.Store
	gateway    embeddings.Gateway
	retriever  *retriever.Retriever
	builder    *contextbuilder.Builder
	pruner     *priority.Pruner
	compressor *compressor.Compressor
	summarizer compressor.Summarizer
}

// Option customizes engine construction.
type Option func(*Engine)

// WithStore overrides the config-selected backend.
func WithStore(st store.Store) Option {
	return func(e *Engine) { e.store = st }
}

// WithGateway overrides the config-selected embedding gateway.
func WithGateway(gw embeddings.Gateway) Option {
	return func(e *Engine) { e.gateway = gw }
}

// WithSummarizer enables message compression.
func WithSummarizer(s compressor.Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithLogger overrides the default logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New assembles an engine from configuration. Missing capabilities
// (embeddings, summarization) degrade the related operations instead of
// failing construction.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	e := &Engine{cfg: cfg, log: logger.New("bruno-memory")}
	for _, opt := range opts {
		opt(e)
	}

	if e.gateway == nil {
		e.gateway = factory.NewEmbeddingGateway(ctx, cfg, e.log)
	}
	if e.store == nil {
		st, err := factory.NewStore(cfg, e.gateway, e.log)
		if err != nil {
			return nil, err
		}
		e.store = st
	}

	e.retriever = retriever.New(e.store, e.gateway, retriever.Config{
		WeightFullText:   cfg.WeightFullText,
		WeightRecency:    cfg.WeightRecency,
		WeightSemantic:   cfg.WeightSemantic,
		WeightImportance: cfg.WeightImportance,
		WeightConfidence: cfg.WeightConfidence,
		RecencyHalfLife:  cfg.RecencyHalfLife,
		CacheTTL:         cfg.CacheTTL,
	}, e.log)
	e.builder = contextbuilder.New(e.store, e.retriever, e.log)

	scorer := priority.NewScorer(priority.Weights{
		Recency:    cfg.WeightRecency,
		Frequency:  cfg.WeightFullText, // reuse text weight share for frequency
		Importance: cfg.WeightImportance,
		Confidence: cfg.WeightConfidence,
	}, cfg.RecencyHalfLife)
	e.pruner = priority.NewPruner(e.store, scorer, cfg.RetentionThreshold, e.log)

	if e.summarizer != nil {
		e.compressor = compressor.New(e.store, e.summarizer, e.log)
	}
	return e, nil
}

// --- Message history ---

// StoreMessage appends a message to the conversation.
func (e *Engine) StoreMessage(ctx context.Context, msg *model.Message, conversationID string) (*model.Message, error) {
	return e.store.StoreMessage(ctx, msg, conversationID)
}

// RetrieveMessages returns conversation history in chronological order;
// limit > 0 keeps only the most recent messages.
func (e *Engine) RetrieveMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	return e.store.RetrieveMessages(ctx, conversationID, limit)
}

// SearchMessages finds messages containing the query text.
func (e *Engine) SearchMessages(ctx context.Context, query, userID string, limit int) ([]*model.Message, error) {
	return e.store.SearchMessages(ctx, query, userID, limit)
}

// ClearHistory removes a conversation's messages, optionally keeping
// system messages.
func (e *Engine) ClearHistory(ctx context.Context, conversationID string, keepSystem bool) error {
	if err := e.store.ClearHistory(ctx, conversationID, keepSystem); err != nil {
		return err
	}
	// Conversation ownership is not tracked here; drop the whole cache.
	e.retriever.InvalidateAll()
	return nil
}

// --- Memory entries ---

// StoreMemory upserts a memory entry.
func (e *Engine) StoreMemory(ctx context.Context, entry *model.MemoryEntry) (*model.MemoryEntry, error) {
	stored, err := e.store.StoreMemory(ctx, entry)
	if err != nil {
		return nil, err
	}
	e.retriever.InvalidateUser(stored.UserID)
	return stored, nil
}

// RetrieveMemories runs the hybrid-scored retrieval pipeline.
func (e *Engine) RetrieveMemories(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error) {
	return e.retriever.Search(ctx, q)
}

// DeleteMemory removes an entry; unknown ids are a no-op.
func (e *Engine) DeleteMemory(ctx context.Context, userID, id string) error {
	if err := e.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	e.retriever.InvalidateUser(userID)
	return nil
}

// --- Sessions and context ---

// CreateSession starts a session with its own conversation.
func (e *Engine) CreateSession(ctx context.Context, userID string, metadata map[string]interface{}) (*model.SessionContext, error) {
	return e.store.CreateSession(ctx, userID, metadata)
}

// GetSession returns the session, or (nil, nil) when unknown.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*model.SessionContext, error) {
	return e.store.GetSession(ctx, sessionID)
}

// EndSession marks the session inactive.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	return e.store.EndSession(ctx, sessionID)
}

// GetContext builds a bounded context with the configured strategy. An
// empty sessionID resolves the most recently active session.
func (e *Engine) GetContext(ctx context.Context, userID, sessionID string) (*model.ConversationContext, error) {
	return e.builder.Build(ctx, userID, sessionID, contextbuilder.Options{
		Strategy:    e.cfg.ContextStrategy,
		MaxMessages: e.cfg.ContextMaxMessages,
		TokenBudget: e.cfg.ContextTokenBudget,
	})
}

// BuildContext is GetContext with per-call options.
func (e *Engine) BuildContext(ctx context.Context, userID, sessionID string, opts contextbuilder.Options) (*model.ConversationContext, error) {
	return e.builder.Build(ctx, userID, sessionID, opts)
}

// --- Maintenance ---

// Prune removes low-value memory entries for the user.
func (e *Engine) Prune(ctx context.Context, userID string) (*priority.Report, error) {
	report, err := e.pruner.Prune(ctx, userID)
	if err != nil {
		return report, err
	}
	e.retriever.InvalidateUser(userID)
	return report, nil
}

// CompactConversation compresses old history into an episodic memory.
// Without a summarizer the operation is unavailable.
func (e *Engine) CompactConversation(ctx context.Context, conversationID string, keepRecent int) (*model.MemoryEntry, error) {
	if e.compressor == nil {
		return nil, fmt.Errorf("%w: no summarizer configured", model.ErrCapabilityUnavailable)
	}
	entry, err := e.compressor.CompactConversation(ctx, conversationID, keepRecent)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		e.retriever.InvalidateUser(entry.UserID)
	}
	return entry, nil
}

// GetStatistics reports backend counters for the user.
func (e *Engine) GetStatistics(ctx context.Context, userID string) (map[string]interface{}, error) {
	return e.store.GetStatistics(ctx, userID)
}

// Health pings the backend and, when present, the embedding gateway.
// Gateway failure is reported but does not fail the check.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.store.HealthPing(ctx); err != nil {
		return fmt.Errorf("%w: store: %v", model.ErrUnavailable, err)
	}
	if e.gateway != nil {
		if err := e.gateway.CheckConnection(ctx); err != nil {
			e.log.Warn().Err(err).Msg("embedding gateway unhealthy")
		}
	}
	return nil
}

// Close releases the backend.
func (e *Engine) Close() error {
	return e.store.Close()
}
