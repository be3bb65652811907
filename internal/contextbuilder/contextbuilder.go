// Package contextbuilder assembles bounded conversation contexts from
// stored history and retrieved memories using pluggable selection
// strategies.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/retriever"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// CharsPerToken is the character-count heuristic used for budget
// estimation when no tokenizer is available.
const CharsPerToken = 4

// Strategy names accepted by Options.Strategy.
const (
	StrategySlidingWindow      = "sliding_window"
	StrategyImportanceWeighted = "importance_weighted"
	StrategySemanticRelevance  = "semantic_relevance"
)

// Input is the shared material a strategy selects from. Messages are in
// chronological order and already bounded by the backend fetch.
type Input struct {
	UserID         string
	ConversationID string
	Messages       []*model.Message
	MaxMessages    int
	TokenBudget    int
	Retriever      *retriever.Retriever
}

// Strategy picks which messages make up the context window.
type Strategy interface {
	Name() string
	Select(ctx context.Context, in Input) ([]*model.Message, error)
}

// Options tunes a single Build call.
type Options struct {
	Strategy    string // defaults to sliding_window
	MaxMessages int    // 0 selects model.DefaultContextMessages
	TokenBudget int    // 0 disables the token bound
}

// Builder resolves sessions and applies a strategy.
type Builder struct {
	store     store.Store
	retriever *retriever.Retriever
	log       zerolog.Logger
}

// New builds a Builder. The retriever may be nil; semantic_relevance then
// degrades to sliding_window.
func New(st store.Store, r *retriever.Retriever, log zerolog.Logger) *Builder {
	return &Builder{store: st, retriever: r, log: log}
}

// Build assembles the context for the user's session. An empty sessionID
// resolves the most recently active session; no resolvable session is
// ErrNotFound. The result never holds more than MaxMessages messages.
func (b *Builder) Build(ctx context.Context, userID, sessionID string, opts Options) (*model.ConversationContext, error) {
	session, err := b.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	cc := model.NewConversationContext(session.ConversationID, userID, session.ID, opts.MaxMessages)

	// Fetch beyond the window so importance weighting has something to
	// choose from.
	history, err := b.store.RetrieveMessages(ctx, session.ConversationID, cc.MaxMessages*3)
	if err != nil {
		return nil, err
	}

	strategy := b.strategyFor(opts.Strategy)
	selected, err := strategy.Select(ctx, Input{
		UserID:         userID,
		ConversationID: session.ConversationID,
		Messages:       history,
		MaxMessages:    cc.MaxMessages,
		TokenBudget:    opts.TokenBudget,
		Retriever:      b.retriever,
	})
	if err != nil {
		return nil, err
	}

	for _, m := range selected {
		cc.Append(m)
	}
	cc.Metadata = map[string]interface{}{
		"strategy":         strategy.Name(),
		"estimated_tokens": EstimateTokens(cc.Messages),
	}
	return cc, nil
}

func (b *Builder) resolveSession(ctx context.Context, userID, sessionID string) (*model.SessionContext, error) {
	if sessionID != "" {
		s, err := b.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s == nil || s.UserID != userID {
			return nil, fmt.Errorf("%w: session %s for user %s", model.ErrNotFound, sessionID, userID)
		}
		return s, nil
	}
	return b.store.ActiveSession(ctx, userID)
}

func (b *Builder) strategyFor(name string) Strategy {
	switch name {
	case StrategyImportanceWeighted:
		return ImportanceWeighted{Weights: retriever.DefaultConfig()}
	case StrategySemanticRelevance:
		if b.retriever == nil {
			b.log.Warn().Msg("semantic_relevance requested without a retriever, using sliding_window")
			return SlidingWindow{}
		}
		return SemanticRelevance{}
	default:
		return SlidingWindow{}
	}
}

// EstimateTokens approximates the token footprint of the messages.
func EstimateTokens(msgs []*model.Message) int {
	total := 0
	for _, m := range msgs {
		if m.TokenCount > 0 {
			total += m.TokenCount
			continue
		}
		total += len(m.Content)/CharsPerToken + 1
	}
	return total
}

// SlidingWindow keeps the most recent messages that fit both the message
// and token bounds, dropping oldest first.
type SlidingWindow struct{}

func (SlidingWindow) Name() string { return StrategySlidingWindow }

func (SlidingWindow) Select(_ context.Context, in Input) ([]*model.Message, error) {
	msgs := in.Messages
	if len(msgs) > in.MaxMessages {
		msgs = msgs[len(msgs)-in.MaxMessages:]
	}
	if in.TokenBudget <= 0 {
		return msgs, nil
	}
	total := 0
	cut := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		total += EstimateTokens(msgs[i : i+1])
		if total > in.TokenBudget {
			break
		}
		cut = i
	}
	// The newest message survives even when it alone blows the budget; an
	// empty window is never useful.
	if cut == len(msgs) && len(msgs) > 0 {
		cut = len(msgs) - 1
	}
	return msgs[cut:], nil
}

// ImportanceWeighted ranks retrieved memory notes and recent history
// together by an importance-biased score, keeps the top-K that fit the
// token budget, then restores chronological order.
type ImportanceWeighted struct {
	Weights retriever.Config
}

func (ImportanceWeighted) Name() string { return StrategyImportanceWeighted }

func (s ImportanceWeighted) Select(ctx context.Context, in Input) ([]*model.Message, error) {
	now := time.Now().UTC()
	latest := now
	if len(in.Messages) > 0 {
		latest = in.Messages[len(in.Messages)-1].CreatedAt
	}

	type scored struct {
		msg   *model.Message
		order int
		score float64
	}
	var items []scored

	if in.Retriever != nil {
		if query := latestUserContent(in.Messages); query != "" {
			noteBudget := in.MaxMessages / 4
			if noteBudget < 1 {
				noteBudget = 1
			}
			memories, err := in.Retriever.Search(ctx, model.MemoryQuery{
				UserID: in.UserID,
				Text:   query,
				Limit:  noteBudget,
			})
			if err != nil {
				return nil, err
			}
			for i, e := range memories {
				note := model.NewMessage(in.ConversationID, model.RoleSystem, "memory: "+e.Content)
				note.UserID = in.UserID
				note.Metadata = map[string]interface{}{"memory_id": e.ID}
				items = append(items, scored{
					msg: note,
					// Notes precede history after the chronological re-sort.
					order: i - len(memories),
					score: s.Weights.RecencyScore(now, e.LastAccessed) +
						s.Weights.WeightImportance*e.Metadata.Importance*10,
				})
			}
		}
	}

	for i, m := range in.Messages {
		importance := 0.5
		if v, ok := m.Metadata["importance"].(float64); ok {
			importance = v
		}
		// System messages anchor the conversation and always score on top.
		if m.Role == model.RoleSystem {
			importance = 1.0
		}
		items = append(items, scored{
			msg:   m,
			order: i,
			score: s.Weights.RecencyScore(latest, m.CreatedAt) + s.Weights.WeightImportance*importance*10,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	// Walk highest score first, dropping whatever no longer fits. The
	// top item always survives, oversized or not.
	total := 0
	kept := make([]scored, 0, in.MaxMessages)
	for _, it := range items {
		if len(kept) == in.MaxMessages {
			break
		}
		cost := EstimateTokens([]*model.Message{it.msg})
		if in.TokenBudget > 0 && total+cost > in.TokenBudget && len(kept) > 0 {
			continue
		}
		total += cost
		kept = append(kept, it)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].order < kept[j].order })
	out := make([]*model.Message, len(kept))
	for i, it := range kept {
		out[i] = it.msg
	}
	return out, nil
}

// SemanticRelevance prepends memory notes related to the latest user
// message, then fills the rest of the window with recent history.
type SemanticRelevance struct{}

func (SemanticRelevance) Name() string { return StrategySemanticRelevance }

func (SemanticRelevance) Select(ctx context.Context, in Input) ([]*model.Message, error) {
	query := latestUserContent(in.Messages)
	if query == "" || in.Retriever == nil {
		return SlidingWindow{}.Select(ctx, in)
	}

	noteBudget := in.MaxMessages / 4
	if noteBudget < 1 {
		noteBudget = 1
	}
	memories, err := in.Retriever.Search(ctx, model.MemoryQuery{
		UserID: in.UserID,
		Text:   query,
		Limit:  noteBudget,
	})
	if err != nil {
		return nil, err
	}

	windowed := Input{
		UserID:      in.UserID,
		Messages:    in.Messages,
		MaxMessages: in.MaxMessages - len(memories),
		TokenBudget: in.TokenBudget,
	}
	if windowed.MaxMessages < 1 {
		windowed.MaxMessages = 1
	}
	recent, err := SlidingWindow{}.Select(ctx, windowed)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Message, 0, len(memories)+len(recent))
	for _, e := range memories {
		note := model.NewMessage(in.ConversationID, model.RoleSystem, "memory: "+e.Content)
		note.UserID = in.UserID
		note.Metadata = map[string]interface{}{"memory_id": e.ID}
		out = append(out, note)
	}
	return append(out, recent...), nil
}

func latestUserContent(msgs []*model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
