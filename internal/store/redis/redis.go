// Package redis implements the storage contract on Redis. It is the
// cache-grade backend: fast, optionally volatile, suited to short-lived
// assistant deployments and to fronting a durable store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Config holds connection settings for the Redis backend.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string        // key prefix, default "bruno"
	TTL       time.Duration // optional expiry for memory/session keys, 0 = none
}

// Backend is the Redis-backed store.
type Backend struct {
	client    goredis.UniversalClient
	ns        string
	ttl       time.Duration
	convLocks sync.Map
}

var _ store.Store = (*Backend)(nil)

// New connects a Redis-backed store.
func New(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient wires an existing client (used by tests with miniredis).
func NewWithClient(client goredis.UniversalClient, cfg Config) *Backend {
	ns := cfg.Namespace
	if ns == "" {
		ns = "bruno"
	}
	return &Backend{client: client, ns: ns, ttl: cfg.TTL}
}

func (b *Backend) key(parts ...string) string {
	return b.ns + ":" + strings.Join(parts, ":")
}

func wrapErr(err error) error {
	if err == nil || err == goredis.Nil {
		return nil
	}
	return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
}

func (b *Backend) convLock(conversationID string) *sync.Mutex {
	v, _ := b.convLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return v.(*sync.Mutex)
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
	payload, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("%w: encode message: %v", model.ErrValidation, err)
	}

	mu := b.convLock(out.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, b.key("conv", out.ConversationID, "msgs"), payload)
	pipe.SAdd(ctx, b.key("convs"), out.ConversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapErr(err)
	}
	if err := b.touchSessions(ctx, out.ConversationID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &out, nil
}

// touchSessions bumps LastActivity on the conversation's active sessions.
func (b *Backend) touchSessions(ctx context.Context, conversationID string, now time.Time) error {
	ids, err := b.client.SMembers(ctx, b.key("conv", conversationID, "sess")).Result()
	if err != nil && err != goredis.Nil {
		return wrapErr(err)
	}
	for _, id := range ids {
		s, err := b.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			// Session key expired under the index; drop the dangling id.
			_ = b.client.SRem(ctx, b.key("conv", conversationID, "sess"), id).Err()
			continue
		}
		if !s.Active {
			continue
		}
		s.LastActivity = now
		if err := b.putSession(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) conversationMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	raw, err := b.client.LRange(ctx, b.key("conv", conversationID, "msgs"), 0, -1).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}
	out := make([]*model.Message, 0, len(raw))
	for _, item := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue // skip corrupt items rather than failing the read
		}
		out = append(out, &m)
	}
	return out, nil
}

func (b *Backend) RetrieveMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	msgs, err := b.conversationMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (b *Backend) SearchMessages(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = model.DefaultQueryLimit
	}
	convs, err := b.client.SMembers(ctx, b.key("convs")).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}
	needle := strings.ToLower(queryText)

	type hit struct {
		msg *model.Message
		pos int
	}
	var hits []hit
	for _, cid := range convs {
		msgs, err := b.conversationMessages(ctx, cid)
		if err != nil {
			return nil, err
		}
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
	// Earlier match position first, then recency.
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
	mu := b.convLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	key := b.key("conv", conversationID, "msgs")
	if !keepSystem {
		return wrapErr(b.client.Del(ctx, key).Err())
	}
	msgs, err := b.conversationMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	var kept []interface{}
	for _, m := range msgs {
		if m.Role != model.RoleSystem {
			continue
		}
		payload, _ := json.Marshal(m)
		kept = append(kept, payload)
	}
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(kept) > 0 {
		pipe.RPush(ctx, key, kept...)
	}
	_, err = pipe.Exec(ctx)
	return wrapErr(err)
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
	if err := b.putMemory(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) putMemory(ctx context.Context, e *model.MemoryEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode memory: %v", model.ErrValidation, err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key("mem", e.ID), payload, b.ttl)
	pipe.SAdd(ctx, b.key("user", e.UserID, "mems"), e.ID)
	_, err = pipe.Exec(ctx)
	return wrapErr(err)
}

func (b *Backend) getMemory(ctx context.Context, id string) (*model.MemoryEntry, error) {
	raw, err := b.client.Get(ctx, b.key("mem", id)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	var e model.MemoryEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

func (b *Backend) RetrieveMemories(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error) {
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	ids, err := b.client.SMembers(ctx, b.key("user", q.UserID, "mems")).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}

	var out []*model.MemoryEntry
	for _, id := range ids {
		e, err := b.getMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			// Key expired under the index; drop the dangling id.
			_ = b.client.SRem(ctx, b.key("user", q.UserID, "mems"), id).Err()
			continue
		}
		if !q.IncludeExpired && e.Expired(now) {
			continue
		}
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].LastAccessed.After(out[j].LastAccessed)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}

	if !q.SkipAccessUpdate {
		for _, e := range out {
			e.Touch(now)
			if err := b.putMemory(ctx, e); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (b *Backend) TouchMemories(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		e, err := b.getMemory(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			continue
		}
		e.Touch(now)
		if err := b.putMemory(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) DeleteMemory(ctx context.Context, id string) error {
	e, err := b.getMemory(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return nil // tolerant delete
	}
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key("mem", id))
	pipe.SRem(ctx, b.key("user", e.UserID, "mems"), id)
	_, err = pipe.Exec(ctx)
	return wrapErr(err)
}

// --- Sessions ---

func (b *Backend) CreateSession(ctx context.Context, userID string, metadata map[string]interface{}) (*model.SessionContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: session user id is required", model.ErrValidation)
	}
	s := model.NewSessionContext(userID)
	s.Metadata = metadata
	if err := b.putSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Backend) putSession(ctx context.Context, s *model.SessionContext) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", model.ErrValidation, err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key("sess", s.ID), payload, b.ttl)
	pipe.ZAdd(ctx, b.key("user", s.UserID, "sessions"), goredis.Z{
		Score:  float64(s.LastActivity.UnixNano()),
		Member: s.ID,
	})
	if s.ConversationID != "" {
		pipe.SAdd(ctx, b.key("conv", s.ConversationID, "sess"), s.ID)
	}
	_, err = pipe.Exec(ctx)
	return wrapErr(err)
}

func (b *Backend) GetSession(ctx context.Context, sessionID string) (*model.SessionContext, error) {
	raw, err := b.client.Get(ctx, b.key("sess", sessionID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	var s model.SessionContext
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, nil
	}
	return &s, nil
}

func (b *Backend) EndSession(ctx context.Context, sessionID string) error {
	s, err := b.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, sessionID)
	}
	s.End(time.Now().UTC())
	return b.putSession(ctx, s)
}

// ActiveSession walks the user's sessions most-recently-active first and
// returns the first still-active one. The zset score is the activity time
// in unix nanos; ZREVRANGE breaks exact ties by larger member id.
func (b *Backend) ActiveSession(ctx context.Context, userID string) (*model.SessionContext, error) {
	ids, err := b.client.ZRevRange(ctx, b.key("user", userID, "sessions"), 0, -1).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}
	for _, id := range ids {
		cand, err := b.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if cand != nil && cand.Active {
			return cand, nil
		}
	}
	return nil, fmt.Errorf("%w: no active session for user %s", model.ErrNotFound, userID)
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
	stats := map[string]interface{}{"backend": "redis"}

	convs, err := b.client.SMembers(ctx, b.key("convs")).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}
	msgCount := 0
	for _, cid := range convs {
		msgs, err := b.conversationMessages(ctx, cid)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if m.UserID == userID {
				msgCount++
			}
		}
	}
	stats["message_count"] = msgCount

	ids, err := b.client.SMembers(ctx, b.key("user", userID, "mems")).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}
	memCount := 0
	byKind := map[string]int{}
	for _, id := range ids {
		e, err := b.getMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		memCount++
		byKind[string(e.Kind)]++
	}
	stats["memory_count"] = memCount
	for kind, n := range byKind {
		stats["memory_count_"+kind] = n
	}

	sessCount, err := b.client.ZCard(ctx, b.key("user", userID, "sessions")).Result()
	if err != nil && err != goredis.Nil {
		return nil, wrapErr(err)
	}
	stats["session_count"] = int(sessCount)

	if keys, err := b.client.DBSize(ctx).Result(); err == nil {
		stats["key_count"] = keys
	}
	return stats, nil
}

func (b *Backend) HealthPing(ctx context.Context) error {
	return wrapErr(b.client.Ping(ctx).Err())
}

func (b *Backend) Close() error { return b.client.Close() }
