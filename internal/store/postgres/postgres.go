// Package postgres implements the storage contract on PostgreSQL via the
// pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Backend is the Postgres-backed store.
type Backend struct {
	db        *sql.DB
	convLocks sync.Map
}

var _ store.Store = (*Backend)(nil)

// Open connects to Postgres, verifies connectivity and applies the schema.
func Open(dsn string) (*Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres DSN is empty", model.ErrValidation)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", model.ErrUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", model.ErrUnavailable, err)
	}
	b := &Backend{db: db}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

// NewWithDB wires an existing connection (used by the factory and tests).
func NewWithDB(db *sql.DB) (*Backend, error) {
	b := &Backend{db: db}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq             BIGSERIAL,
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id         TEXT,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		metadata        JSONB,
		parent_id       TEXT,
		token_count     INTEGER,
		model           TEXT,
		finish_reason   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);

	CREATE TABLE IF NOT EXISTS memories (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		conversation_id TEXT,
		content         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		source          TEXT,
		category        TEXT,
		tags            JSONB,
		confidence      DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		importance      DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		access_count    INTEGER NOT NULL DEFAULT 0,
		embedding       JSONB,
		related         JSONB,
		extra           JSONB,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		last_accessed   TIMESTAMPTZ NOT NULL,
		expires_at      TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_user_kind ON memories(user_id, kind);

	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		conversation_id TEXT,
		started_at      TIMESTAMPTZ NOT NULL,
		ended_at        TIMESTAMPTZ,
		last_activity   TIMESTAMPTZ NOT NULL,
		active          BOOLEAN NOT NULL,
		state           JSONB,
		metadata        JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_activity);
	`
	_, err := b.db.Exec(schema)
	return err
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case err == sql.ErrNoRows:
		return model.ErrNotFound
	case strings.Contains(err.Error(), "duplicate key"):
		return fmt.Errorf("%w: %v", model.ErrConflict, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
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
	metaJSON, _ := json.Marshal(out.Metadata)

	mu := b.convLock(out.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	_, err := b.db.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, user_id, role, content, kind, created_at, metadata, parent_id, token_count, model, finish_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		out.ID, out.ConversationID, out.UserID, string(out.Role), out.Content, string(out.Kind),
		out.CreatedAt, string(metaJSON), out.ParentID, out.TokenCount, out.Model, out.FinishReason)
	if err != nil {
		return nil, mapErr(err)
	}

	// A stored message is session activity.
	if _, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = $1 WHERE conversation_id = $2 AND active`,
		time.Now().UTC(), out.ConversationID); err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

const messageCols = `id, conversation_id, user_id, role, content, kind, created_at, metadata, parent_id, token_count, model, finish_reason`

func (b *Backend) RetrieveMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	q := `SELECT ` + messageCols + ` FROM messages WHERE conversation_id = $1 ORDER BY seq DESC`
	args := []interface{}{conversationID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *Backend) SearchMessages(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = model.DefaultQueryLimit
	}
	q := `SELECT ` + messageCols + ` FROM messages WHERE content ILIKE '%' || $1 || '%'`
	args := []interface{}{queryText}
	idx := 2
	if userID != "" {
		q += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, userID)
		idx++
	}
	q += fmt.Sprintf(` ORDER BY strpos(lower(content), lower($1)) ASC, seq DESC LIMIT $%d`, idx)
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *Backend) ClearHistory(ctx context.Context, conversationID string, keepSystem bool) error {
	q := `DELETE FROM messages WHERE conversation_id = $1`
	args := []interface{}{conversationID}
	if keepSystem {
		q += ` AND role != $2`
		args = append(args, string(model.RoleSystem))
	}
	_, err := b.db.ExecContext(ctx, q, args...)
	return mapErr(err)
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

	tagsJSON, _ := json.Marshal(out.Metadata.Tags)
	embJSON, _ := json.Marshal(out.Metadata.Embedding)
	relJSON, _ := json.Marshal(out.Metadata.RelatedMemories)
	extraJSON, _ := json.Marshal(out.Metadata.Extra)

	_, err := b.db.ExecContext(ctx, `INSERT INTO memories
		(id, user_id, conversation_id, content, kind, source, category, tags, confidence, importance,
		 access_count, embedding, related, extra, created_at, updated_at, last_accessed, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, kind = EXCLUDED.kind, source = EXCLUDED.source,
			category = EXCLUDED.category, tags = EXCLUDED.tags, confidence = EXCLUDED.confidence,
			importance = EXCLUDED.importance, access_count = EXCLUDED.access_count,
			embedding = EXCLUDED.embedding, related = EXCLUDED.related, extra = EXCLUDED.extra,
			updated_at = EXCLUDED.updated_at, last_accessed = EXCLUDED.last_accessed,
			expires_at = EXCLUDED.expires_at`,
		out.ID, out.UserID, out.ConversationID, out.Content, string(out.Kind),
		out.Metadata.Source, out.Metadata.Category, string(tagsJSON),
		out.Metadata.Confidence, out.Metadata.Importance, out.Metadata.AccessCount,
		string(embJSON), string(relJSON), string(extraJSON),
		out.CreatedAt, out.UpdatedAt, out.LastAccessed, out.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

const memoryCols = `id, user_id, conversation_id, content, kind, source, category, tags,
	confidence, importance, access_count, embedding, related, extra,
	created_at, updated_at, last_accessed, expires_at`

func (b *Backend) RetrieveMemories(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error) {
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	sqlQ := `SELECT ` + memoryCols + ` FROM memories WHERE user_id = $1`
	args := []interface{}{q.UserID}
	if !q.IncludeExpired {
		sqlQ += ` AND (expires_at IS NULL OR expires_at > $2)`
		args = append(args, now)
	}
	sqlQ += ` ORDER BY last_accessed DESC, id ASC`

	rows, err := b.db.QueryContext(ctx, sqlQ, args...)
	if err != nil {
		return nil, mapErr(err)
	}

	var out []*model.MemoryEntry
	for rows.Next() {
		e, err := scanMemory(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr(err)
		}
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) == q.Limit {
			break
		}
	}
	err = rows.Err()
	// Release the cursor before the touch updates reuse the pool.
	rows.Close()
	if err != nil {
		return nil, mapErr(err)
	}

	if !q.SkipAccessUpdate {
		for _, e := range out {
			if _, err := b.db.ExecContext(ctx,
				`UPDATE memories SET access_count = access_count + 1, last_accessed = $1 WHERE id = $2`,
				now, e.ID); err != nil {
				return nil, mapErr(err)
			}
			e.Touch(now)
		}
	}
	return out, nil
}

func (b *Backend) TouchMemories(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := b.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = $1 WHERE id = $2`,
			now, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (b *Backend) DeleteMemory(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	return mapErr(err)
}

// --- Sessions ---

func (b *Backend) CreateSession(ctx context.Context, userID string, metadata map[string]interface{}) (*model.SessionContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: session user id is required", model.ErrValidation)
	}
	s := model.NewSessionContext(userID)
	s.Metadata = metadata
	stateJSON, _ := json.Marshal(s.State)
	metaJSON, _ := json.Marshal(s.Metadata)
	_, err := b.db.ExecContext(ctx, `INSERT INTO sessions
		(id, user_id, conversation_id, started_at, ended_at, last_activity, active, state, metadata)
		VALUES ($1,$2,$3,$4,NULL,$5,TRUE,$6,$7)`,
		s.ID, s.UserID, s.ConversationID, s.StartedAt, s.LastActivity,
		string(stateJSON), string(metaJSON))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

const sessionCols = `id, user_id, conversation_id, started_at, ended_at, last_activity, active, state, metadata`

func (b *Backend) GetSession(ctx context.Context, sessionID string) (*model.SessionContext, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (b *Backend) EndSession(ctx context.Context, sessionID string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE, ended_at = COALESCE(ended_at, $1) WHERE id = $2`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, sessionID)
	}
	return nil
}

// ActiveSession resolves the user's most recently active session; id
// breaks exact ties.
func (b *Backend) ActiveSession(ctx context.Context, userID string) (*model.SessionContext, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions
		WHERE user_id = $1 AND active ORDER BY last_activity DESC, id DESC LIMIT 1`, userID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no active session for user %s", model.ErrNotFound, userID)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (b *Backend) GetContext(ctx context.Context, userID, sessionID string) (*model.ConversationContext, error) {
	var s *model.SessionContext
	var err error
	if sessionID != "" {
		s, err = b.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s == nil || s.UserID != userID {
			return nil, fmt.Errorf("%w: session %s for user %s", model.ErrNotFound, sessionID, userID)
		}
	} else {
		s, err = b.ActiveSession(ctx, userID)
		if err != nil {
			return nil, err
		}
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
	stats := map[string]interface{}{"backend": "postgres"}

	var msgCount, memCount, sessCount int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1`, userID).Scan(&msgCount); err != nil {
		return nil, mapErr(err)
	}
	stats["message_count"] = msgCount

	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = $1`, userID).Scan(&memCount); err != nil {
		return nil, mapErr(err)
	}
	stats["memory_count"] = memCount

	rows, err := b.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM memories WHERE user_id = $1 GROUP BY kind`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, mapErr(err)
		}
		stats["memory_count_"+kind] = n
	}

	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = $1`, userID).Scan(&sessCount); err != nil {
		return nil, mapErr(err)
	}
	stats["session_count"] = sessCount

	var sizeBytes int64
	if err := b.db.QueryRowContext(ctx,
		`SELECT COALESCE(pg_total_relation_size('messages'),0) + COALESCE(pg_total_relation_size('memories'),0) + COALESCE(pg_total_relation_size('sessions'),0)`).
		Scan(&sizeBytes); err == nil {
		stats["storage_bytes"] = sizeBytes
	}
	return stats, nil
}

func (b *Backend) HealthPing(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() error { return b.db.Close() }

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(r rowScanner) (*model.Message, error) {
	var m model.Message
	var role, kind string
	var userID, metaStr, parentID, mdl, finish sql.NullString
	var tokens sql.NullInt64
	if err := r.Scan(&m.ID, &m.ConversationID, &userID, &role, &m.Content, &kind,
		&m.CreatedAt, &metaStr, &parentID, &tokens, &mdl, &finish); err != nil {
		return nil, err
	}
	m.UserID = userID.String
	m.Role = model.Role(role)
	m.Kind = model.MessageKind(kind)
	m.CreatedAt = m.CreatedAt.UTC()
	m.ParentID = parentID.String
	m.TokenCount = int(tokens.Int64)
	m.Model = mdl.String
	m.FinishReason = finish.String
	if metaStr.Valid && metaStr.String != "" && metaStr.String != "null" {
		_ = json.Unmarshal([]byte(metaStr.String), &m.Metadata)
	}
	return &m, nil
}

func scanMemory(r rowScanner) (*model.MemoryEntry, error) {
	var e model.MemoryEntry
	var kind string
	var convID, source, category, tags, emb, rel, extra sql.NullString
	var expires sql.NullTime
	if err := r.Scan(&e.ID, &e.UserID, &convID, &e.Content, &kind, &source, &category, &tags,
		&e.Metadata.Confidence, &e.Metadata.Importance, &e.Metadata.AccessCount,
		&emb, &rel, &extra, &e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &expires); err != nil {
		return nil, err
	}
	e.ConversationID = convID.String
	e.Kind = model.MemoryKind(kind)
	e.Metadata.Source = source.String
	e.Metadata.Category = category.String
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &e.Metadata.Tags)
	}
	if emb.Valid {
		_ = json.Unmarshal([]byte(emb.String), &e.Metadata.Embedding)
	}
	if rel.Valid {
		_ = json.Unmarshal([]byte(rel.String), &e.Metadata.RelatedMemories)
	}
	if extra.Valid && extra.String != "null" {
		_ = json.Unmarshal([]byte(extra.String), &e.Metadata.Extra)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.LastAccessed = e.LastAccessed.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		e.ExpiresAt = &t
	}
	return &e, nil
}

func scanSession(r rowScanner) (*model.SessionContext, error) {
	var s model.SessionContext
	var convID, state, meta sql.NullString
	var ended sql.NullTime
	if err := r.Scan(&s.ID, &s.UserID, &convID, &s.StartedAt, &ended, &s.LastActivity, &s.Active, &state, &meta); err != nil {
		return nil, err
	}
	s.ConversationID = convID.String
	s.StartedAt = s.StartedAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
	if ended.Valid {
		t := ended.Time.UTC()
		s.EndedAt = &t
	}
	if state.Valid && state.String != "null" && state.String != "" {
		_ = json.Unmarshal([]byte(state.String), &s.State)
	}
	if meta.Valid && meta.String != "null" && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &s.Metadata)
	}
	return &s, nil
}
