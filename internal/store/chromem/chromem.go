// Package chromem implements the storage contract on chromem-go, a pure
// Go embedded vector database. Memory entries are indexed per user for
// vector-native retrieval; messages and sessions are held in process
// memory, making this the backend of choice for semantic-heavy,
// single-process deployments.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/bruno-ai/bruno-memory/internal/embeddings"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Backend is the chromem-backed store.
type Backend struct {
	db      *chromemgo.DB
	gateway embeddings.Gateway // optional; enables text queries and write-time embedding

	mu          sync.RWMutex
	collections map[string]*chromemgo.Collection // per user
	mems        map[string]*model.MemoryEntry
	convs       map[string][]*model.Message
	sessions    map[string]*model.SessionContext
}

var _ store.Store = (*Backend)(nil)

// New builds a chromem-backed store. gateway may be nil; without it,
// semantic ranking requires entries and queries to carry embeddings.
func New(gateway embeddings.Gateway) *Backend {
	return &Backend{
		db:          chromemgo.NewDB(),
		gateway:     gateway,
		collections: make(map[string]*chromemgo.Collection),
		mems:        make(map[string]*model.MemoryEntry),
		convs:       make(map[string][]*model.Message),
		sessions:    make(map[string]*model.SessionContext),
	}
}

func (b *Backend) collection(userID string) (*chromemgo.Collection, error) {
	b.mu.RLock()
	col, ok := b.collections[userID]
	b.mu.RUnlock()
	if ok {
		return col, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if col, ok := b.collections[userID]; ok {
		return col, nil
	}
	col, err := b.db.CreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", model.ErrUnavailable, err)
	}
	b.collections[userID] = col
	return col, nil
}

// --- Messages ---

func (b *Backend) StoreMessage(ctx context.Context, msg *model.Message, conversationID string) (*model.Message, error) {
	if err := model.ValidateMessage(msg); err != nil {
		return nil, err
	}
	out := *msg
	if out.ConversationID == "" {
		out.ConversationID = conversationID
	}
	if out.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", model.ErrValidation)
	}
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Kind == "" {
		out.Kind = model.MessageText
	}

	// Map mutation under the write lock doubles as the per-conversation
	// append serializer.
	now := time.Now().UTC()
	b.mu.Lock()
	b.convs[out.ConversationID] = append(b.convs[out.ConversationID], &out)
	// A stored message is session activity.
	for _, s := range b.sessions {
		if s.Active && s.ConversationID == out.ConversationID {
			s.LastActivity = now
		}
	}
	b.mu.Unlock()
	return &out, nil
}

func (b *Backend) RetrieveMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	b.mu.RLock()
	msgs := append([]*model.Message(nil), b.convs[conversationID]...)
	b.mu.RUnlock()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (b *Backend) SearchMessages(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = model.DefaultQueryLimit
	}
	needle := strings.ToLower(queryText)

	b.mu.RLock()
	type hit struct {
		msg *model.Message
		pos int
	}
	var hits []hit
	for _, msgs := range b.convs {
		for _, m := range msgs {
			if userID != "" && m.UserID != userID {
				continue
			}
			pos := strings.Index(strings.ToLower(m.Content), needle)
			if pos < 0 {
				continue
			}
			hits = append(hits, hit{msg: m, pos: pos})
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].msg.CreatedAt.After(hits[j].msg.CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*model.Message, len(hits))
	for i, h := range hits {
		out[i] = h.msg
	}
	return out, nil
}

func (b *Backend) ClearHistory(ctx context.Context, conversationID string, keepSystem bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !keepSystem {
		delete(b.convs, conversationID)
		return nil
	}
	var kept []*model.Message
	for _, m := range b.convs[conversationID] {
		if m.Role == model.RoleSystem {
			kept = append(kept, m)
		}
	}
	b.convs[conversationID] = kept
	return nil
}

// --- Memories ---

func (b *Backend) StoreMemory(ctx context.Context, entry *model.MemoryEntry) (*model.MemoryEntry, error) {
	out := entry.Clone()
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.LastAccessed.IsZero() {
		out.LastAccessed = out.CreatedAt
	}
	out.UpdatedAt = now
	if err := model.ValidateMemoryEntry(out); err != nil {
		return nil, err
	}

	// Embed at write time when the gateway is available, so text queries
	// can rank this entry without re-embedding stored content.
	if len(out.Metadata.Embedding) == 0 && b.gateway != nil {
		vec, err := b.gateway.EmbedText(ctx, out.Content)
		if err == nil {
			out.Metadata.Embedding = vec
		}
		// Embedding failure is not fatal for the write; the entry simply
		// stays out of the vector index.
	}

	if len(out.Metadata.Embedding) > 0 {
		col, err := b.collection(out.UserID)
		if err != nil {
			return nil, err
		}
		doc := chromemgo.Document{
			ID:        out.ID,
			Content:   out.Content,
			Embedding: out.Metadata.Embedding,
			Metadata:  map[string]string{"kind": string(out.Kind)},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("%w: add document: %v", model.ErrUnavailable, err)
		}
	}

	b.mu.Lock()
	b.mems[out.ID] = out
	b.mu.Unlock()
	return out.Clone(), nil
}

func (b *Backend) RetrieveMemories(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error) {
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	b.mu.RLock()
	var candidates []*model.MemoryEntry
	for _, e := range b.mems {
		if !q.IncludeExpired && e.Expired(now) {
			continue
		}
		if !q.Matches(e) {
			continue
		}
		candidates = append(candidates, e)
	}
	b.mu.RUnlock()

	if q.Text != "" {
		ranked, err := b.rankSemantic(ctx, q, candidates)
		if err == nil {
			candidates = ranked
		} else {
			// No vector signal available; fall back to recency order.
			sortByRecency(candidates)
		}
	} else {
		sortByRecency(candidates)
	}
	if len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	out := make([]*model.MemoryEntry, len(candidates))
	b.mu.Lock()
	for i, e := range candidates {
		if !q.SkipAccessUpdate {
			e.Touch(now)
		}
		out[i] = e.Clone()
	}
	b.mu.Unlock()
	return out, nil
}

// rankSemantic orders candidates by vector similarity to the query text
// using the user's chromem collection, dropping entries below the
// similarity threshold.
func (b *Backend) rankSemantic(ctx context.Context, q model.MemoryQuery, candidates []*model.MemoryEntry) ([]*model.MemoryEntry, error) {
	if b.gateway == nil {
		return nil, fmt.Errorf("%w: no embedding gateway", model.ErrCapabilityUnavailable)
	}
	vec, err := b.gateway.EmbedText(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", model.ErrCapabilityUnavailable, err)
	}
	col, err := b.collection(q.UserID)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty vector index", model.ErrNotFound)
	}

	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %v", model.ErrUnavailable, err)
	}

	byID := make(map[string]*model.MemoryEntry, len(candidates))
	for _, e := range candidates {
		byID[e.ID] = e
	}
	var ranked []*model.MemoryEntry
	seen := make(map[string]bool)
	for _, r := range results {
		e, ok := byID[r.ID]
		if !ok || seen[r.ID] {
			continue
		}
		if float64(r.Similarity) < q.SimilarityThreshold {
			continue
		}
		seen[r.ID] = true
		ranked = append(ranked, e)
	}
	// Candidates without an indexed embedding keep their recency slot
	// behind the semantic hits.
	var rest []*model.MemoryEntry
	for _, e := range candidates {
		if !seen[e.ID] && len(e.Metadata.Embedding) == 0 {
			rest = append(rest, e)
		}
	}
	sortByRecency(rest)
	return append(ranked, rest...), nil
}

func sortByRecency(entries []*model.MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].LastAccessed.Equal(entries[j].LastAccessed) {
			return entries[i].LastAccessed.After(entries[j].LastAccessed)
		}
		return entries[i].ID < entries[j].ID
	})
}

func (b *Backend) TouchMemories(_ context.Context, ids []string) error {
	now := time.Now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if e, ok := b.mems[id]; ok {
			e.Touch(now)
		}
	}
	return nil
}

func (b *Backend) DeleteMemory(ctx context.Context, id string) error {
	b.mu.Lock()
	e, ok := b.mems[id]
	if ok {
		delete(b.mems, id)
	}
	b.mu.Unlock()
	if !ok {
		return nil // tolerant delete
	}
	if len(e.Metadata.Embedding) > 0 {
		col, err := b.collection(e.UserID)
		if err != nil {
			return err
		}
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("%w: delete document: %v", model.ErrUnavailable, err)
		}
	}
	return nil
}

// --- Sessions ---

func (b *Backend) CreateSession(ctx context.Context, userID string, metadata map[string]interface{}) (*model.SessionContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: session user id is required", model.ErrValidation)
	}
	s := model.NewSessionContext(userID)
	s.Metadata = metadata
	b.mu.Lock()
	b.sessions[s.ID] = s
	b.mu.Unlock()
	return s, nil
}

func (b *Backend) GetSession(ctx context.Context, sessionID string) (*model.SessionContext, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (b *Backend) EndSession(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, sessionID)
	}
	s.End(time.Now().UTC())
	return nil
}

// ActiveSession resolves the user's most recently active session; id
// breaks exact ties.
func (b *Backend) ActiveSession(_ context.Context, userID string) (*model.SessionContext, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var s *model.SessionContext
	for _, cand := range b.sessions {
		if cand.UserID != userID || !cand.Active {
			continue
		}
		if s == nil || cand.LastActivity.After(s.LastActivity) ||
			(cand.LastActivity.Equal(s.LastActivity) && cand.ID > s.ID) {
			cp := *cand
			s = &cp
		}
	}
	if s == nil {
		return nil, fmt.Errorf("%w: no active session for user %s", model.ErrNotFound, userID)
	}
	return s, nil
}

func (b *Backend) GetContext(ctx context.Context, userID, sessionID string) (*model.ConversationContext, error) {
	var s *model.SessionContext
	if sessionID != "" {
		found, err := b.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if found == nil || found.UserID != userID {
			return nil, fmt.Errorf("%w: session %s for user %s", model.ErrNotFound, sessionID, userID)
		}
		s = found
	} else {
		found, err := b.ActiveSession(ctx, userID)
		if err != nil {
			return nil, err
		}
		s = found
	}

	cc := model.NewConversationContext(s.ConversationID, userID, s.ID, 0)
	msgs, err := b.RetrieveMessages(ctx, s.ConversationID, cc.MaxMessages)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		cc.Append(m)
	}
	return cc, nil
}

// --- Statistics ---

func (b *Backend) GetStatistics(ctx context.Context, userID string) (map[string]interface{}, error) {
	stats := map[string]interface{}{"backend": "chromem"}

	b.mu.RLock()
	defer b.mu.RUnlock()

	msgCount := 0
	for _, msgs := range b.convs {
		for _, m := range msgs {
			if m.UserID == userID {
				msgCount++
			}
		}
	}
	stats["message_count"] = msgCount

	memCount := 0
	byKind := map[string]int{}
	for _, e := range b.mems {
		if e.UserID != userID {
			continue
		}
		memCount++
		byKind[string(e.Kind)]++
	}
	stats["memory_count"] = memCount
	for kind, n := range byKind {
		stats["memory_count_"+kind] = n
	}

	sessCount := 0
	for _, s := range b.sessions {
		if s.UserID == userID {
			sessCount++
		}
	}
	stats["session_count"] = sessCount

	if col, ok := b.collections[userID]; ok {
		stats["indexed_vectors"] = col.Count()
	}
	return stats, nil
}

func (b *Backend) HealthPing(ctx context.Context) error { return nil }

func (b *Backend) Close() error { return nil }
