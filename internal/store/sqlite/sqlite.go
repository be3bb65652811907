// Package sqlite implements the storage contract on an embedded SQLite
// database via modernc.org/sqlite (pure Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// Backend is the SQLite-backed store.
type Backend struct {
	db  *sql.DB
	fts bool

	// convLocks serializes appends within one conversation so retrieval
	// observes a consistent order. Keyed by conversation id.
	convLocks sync.Map
}

var _ store.Store = (*Backend)(nil)

// Options tunes backend behavior beyond the database path.
type Options struct {
	// DisableFTS skips the fts5 schema and makes SearchMessages use the
	// LIKE fallback. Full-text search is on by default.
	DisableFTS bool
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Backend, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions is Open with explicit backend options.
func OpenWithOptions(path string, opts Options) (*Backend, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent and gives the
	// file case a single-writer discipline.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, fts: !opts.DisableFTS}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id         TEXT,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		metadata        TEXT,
		parent_id       TEXT,
		token_count     INTEGER,
		model           TEXT,
		finish_reason   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);

	CREATE TABLE IF NOT EXISTS memories (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		conversation_id TEXT,
		content         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		source          TEXT,
		category        TEXT,
		tags            TEXT,
		confidence      REAL NOT NULL DEFAULT 1.0,
		importance      REAL NOT NULL DEFAULT 0.5,
		access_count    INTEGER NOT NULL DEFAULT 0,
		embedding       TEXT,
		related         TEXT,
		extra           TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		last_accessed   TEXT NOT NULL,
		expires_at      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_user_kind ON memories(user_id, kind);
	CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		conversation_id TEXT,
		started_at      TEXT NOT NULL,
		ended_at        TEXT,
		last_activity   TEXT NOT NULL,
		active          INTEGER NOT NULL,
		state           TEXT,
		metadata        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_activity);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return err
	}
	if !b.fts {
		return nil
	}

	// External-content fts5 table over messages, kept in sync by triggers.
	ftsStmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			content,
			content=messages,
			content_rowid=rowid
		)`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		END`,
	}
	for _, stmt := range ftsStmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// timeLayout is fixed-width so stored strings order lexicographically the
// same way the times order chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case err == sql.ErrNoRows:
		return model.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint"):
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
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		out.ID, out.ConversationID, out.UserID, string(out.Role), out.Content, string(out.Kind),
		fmtTime(out.CreatedAt), string(metaJSON), out.ParentID, out.TokenCount, out.Model, out.FinishReason)
	if err != nil {
		return nil, mapErr(err)
	}

	// A stored message is session activity.
	if _, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE conversation_id = ? AND active = 1`,
		fmtTime(time.Now().UTC()), out.ConversationID); err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func (b *Backend) RetrieveMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	q := `SELECT id, conversation_id, user_id, role, content, kind, created_at, metadata, parent_id, token_count, model, finish_reason
		FROM messages WHERE conversation_id = ? ORDER BY rowid DESC`
	args := []interface{}{conversationID}
	if limit > 0 {
		q += " LIMIT ?"
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
	// Query walks newest-first for the LIMIT; callers get insertion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *Backend) SearchMessages(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = model.DefaultQueryLimit
	}
	if b.fts && strings.TrimSpace(queryText) != "" {
		return b.searchMessagesFTS(ctx, queryText, userID, limit)
	}
	return b.searchMessagesLike(ctx, queryText, userID, limit)
}

func (b *Backend) searchMessagesFTS(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error) {
	q := `SELECT m.id, m.conversation_id, m.user_id, m.role, m.content, m.kind, m.created_at,
		m.metadata, m.parent_id, m.token_count, m.model, m.finish_reason
		FROM messages m
		JOIN messages_fts f ON f.rowid = m.rowid
		WHERE messages_fts MATCH ?`
	args := []interface{}{ftsQuery(queryText)}
	if userID != "" {
		q += " AND m.user_id = ?"
		args = append(args, userID)
	}
	q += " ORDER BY rank, m.rowid DESC LIMIT ?"
	args = append(args, limit)
	return b.queryMessages(ctx, q, args...)
}

func (b *Backend) searchMessagesLike(ctx context.Context, queryText, userID string, limit int) ([]*model.Message, error) {
	q := `SELECT id, conversation_id, user_id, role, content, kind, created_at, metadata, parent_id, token_count, model, finish_reason
		FROM messages WHERE content LIKE ? ESCAPE '\'`
	args := []interface{}{"%" + escapeLike(queryText) + "%"}
	if userID != "" {
		q += " AND user_id = ?"
		args = append(args, userID)
	}
	// Earlier match position ranks higher, recency breaks ties.
	q += " ORDER BY instr(lower(content), lower(?)) ASC, rowid DESC LIMIT ?"
	args = append(args, queryText, limit)
	return b.queryMessages(ctx, q, args...)
}

func (b *Backend) queryMessages(ctx context.Context, q string, args ...interface{}) ([]*model.Message, error) {
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

// ftsQuery builds an fts5 MATCH expression: each term quoted so user
// input cannot inject query syntax, terms implicitly ANDed.
func ftsQuery(s string) string {
	terms := strings.Fields(s)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (b *Backend) ClearHistory(ctx context.Context, conversationID string, keepSystem bool) error {
	q := `DELETE FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if keepSystem {
		q += ` AND role != ?`
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
	var expires interface{}
	if out.ExpiresAt != nil {
		expires = fmtTime(*out.ExpiresAt)
	}

	_, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO memories
		(id, user_id, conversation_id, content, kind, source, category, tags, confidence, importance,
		 access_count, embedding, related, extra, created_at, updated_at, last_accessed, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		out.ID, out.UserID, out.ConversationID, out.Content, string(out.Kind),
		out.Metadata.Source, out.Metadata.Category, string(tagsJSON),
		out.Metadata.Confidence, out.Metadata.Importance, out.Metadata.AccessCount,
		string(embJSON), string(relJSON), string(extraJSON),
		fmtTime(out.CreatedAt), fmtTime(out.UpdatedAt), fmtTime(out.LastAccessed), expires)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (b *Backend) RetrieveMemories(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error) {
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	sqlQ := `SELECT id, user_id, conversation_id, content, kind, source, category, tags,
		confidence, importance, access_count, embedding, related, extra,
		created_at, updated_at, last_accessed, expires_at
		FROM memories WHERE user_id = ?`
	args := []interface{}{q.UserID}
	if !q.IncludeExpired {
		sqlQ += ` AND (expires_at IS NULL OR expires_at > ?)`
		args = append(args, fmtTime(now))
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
	// The pool holds a single connection; the cursor must be released
	// before the touch updates can execute.
	rows.Close()
	if err != nil {
		return nil, mapErr(err)
	}

	if !q.SkipAccessUpdate {
		if err := b.touchMemories(ctx, out, now); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// touchMemories records the retrieval side effect for served entries.
func (b *Backend) touchMemories(ctx context.Context, served []*model.MemoryEntry, now time.Time) error {
	for _, e := range served {
		if _, err := b.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			fmtTime(now), e.ID); err != nil {
			return mapErr(err)
		}
		e.Touch(now)
	}
	return nil
}

func (b *Backend) TouchMemories(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := b.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			fmtTime(now), id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (b *Backend) DeleteMemory(ctx context.Context, id string) error {
	// Tolerant delete: unknown ids are a no-op success.
	_, err := b.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
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
		VALUES (?,?,?,?,NULL,?,1,?,?)`,
		s.ID, s.UserID, s.ConversationID, fmtTime(s.StartedAt), fmtTime(s.LastActivity),
		string(stateJSON), string(metaJSON))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (b *Backend) GetSession(ctx context.Context, sessionID string) (*model.SessionContext, error) {
	row := b.db.QueryRowContext(ctx, `SELECT id, user_id, conversation_id, started_at, ended_at, last_activity, active, state, metadata
		FROM sessions WHERE id = ?`, sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil // absent, not an error
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (b *Backend) EndSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
		fmtTime(now), sessionID)
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
	row := b.db.QueryRowContext(ctx, `SELECT id, user_id, conversation_id, started_at, ended_at, last_activity, active, state, metadata
		FROM sessions WHERE user_id = ? AND active = 1 ORDER BY last_activity DESC, id DESC LIMIT 1`, userID)
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
	stats := map[string]interface{}{"backend": "sqlite"}

	var msgCount int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&msgCount); err != nil {
		return nil, mapErr(err)
	}
	stats["message_count"] = msgCount

	var memCount int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&memCount); err != nil {
		return nil, mapErr(err)
	}
	stats["memory_count"] = memCount

	rows, err := b.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM memories WHERE user_id = ? GROUP BY kind`, userID)
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

	var sessCount int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&sessCount); err != nil {
		return nil, mapErr(err)
	}
	stats["session_count"] = sessCount

	var sizeBytes int64
	if err := b.db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&sizeBytes); err == nil {
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
	var role, kind, created string
	var userID, metaStr, parentID, mdl, finish sql.NullString
	var tokens sql.NullInt64
	if err := r.Scan(&m.ID, &m.ConversationID, &userID, &role, &m.Content, &kind,
		&created, &metaStr, &parentID, &tokens, &mdl, &finish); err != nil {
		return nil, err
	}
	m.UserID = userID.String
	m.Role = model.Role(role)
	m.Kind = model.MessageKind(kind)
	m.CreatedAt = parseTime(created)
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
	var kind, created, updated, accessed string
	var convID, source, category, tags, emb, rel, extra, expires sql.NullString
	if err := r.Scan(&e.ID, &e.UserID, &convID, &e.Content, &kind, &source, &category, &tags,
		&e.Metadata.Confidence, &e.Metadata.Importance, &e.Metadata.AccessCount,
		&emb, &rel, &extra, &created, &updated, &accessed, &expires); err != nil {
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
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	e.LastAccessed = parseTime(accessed)
	if expires.Valid && expires.String != "" {
		t := parseTime(expires.String)
		e.ExpiresAt = &t
	}
	return &e, nil
}

func scanSession(r rowScanner) (*model.SessionContext, error) {
	var s model.SessionContext
	var started, lastActivity string
	var convID, ended, state, meta sql.NullString
	var active int
	if err := r.Scan(&s.ID, &s.UserID, &convID, &started, &ended, &lastActivity, &active, &state, &meta); err != nil {
		return nil, err
	}
	s.ConversationID = convID.String
	s.StartedAt = parseTime(started)
	s.LastActivity = parseTime(lastActivity)
	s.Active = active == 1
	if ended.Valid && ended.String != "" {
		t := parseTime(ended.String)
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
