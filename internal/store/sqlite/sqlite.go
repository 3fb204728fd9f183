// Package sqlite implements store.Store on a local SQLite database via the
// modernc.org/sqlite driver. It is the zero-dependency driver used for local
// development and the compliance suite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id       TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    display_name  TEXT,
    avatar_url    TEXT,
    password_hash TEXT NOT NULL,
    creation_time TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT PRIMARY KEY,
    created_by      TEXT NOT NULL,
    direct_key      TEXT UNIQUE,
    creation_time   TIMESTAMP NOT NULL,
    last_activity   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_members (
    conversation_id TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS entries (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id        TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL,
    sender_id       TEXT NOT NULL,
    content         TEXT NOT NULL,
    creation_time   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_conversation ON entries(conversation_id, seq);
`

// Open opens (or creates) the SQLite database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc's driver is not safe for concurrent writes on one connection
	// pool beyond a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a SQLite-backed store over an opened database.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Users() store.Users                 { return &users{db: s.db} }
func (s *sqliteStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *sqliteStore) Entries() store.Entries             { return &entries{db: s.db} }

// HealthPing implements the health checker used by the HTTP layer.
func (s *sqliteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.UserID == "" {
		out.UserID = uuid.New().String()
	}
	out.CreationTime = time.Now().UTC()
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO users (user_id, username, display_name, avatar_url, password_hash, creation_time)
        VALUES (?,?,?,?,?,?)
    `, out.UserID, out.Username, out.DisplayName, out.AvatarURL, out.PasswordHash, out.CreationTime)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", out.Username, model.ErrConflict)
		}
		return nil, err
	}
	return &out, nil
}

func (u *users) GetByID(ctx context.Context, userID string) (*model.User, error) {
	return scanUser(u.db.QueryRowContext(ctx, `
        SELECT user_id, username, display_name, avatar_url, password_hash, creation_time
        FROM users WHERE user_id=?
    `, userID))
}

func (u *users) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(u.db.QueryRowContext(ctx, `
        SELECT user_id, username, display_name, avatar_url, password_hash, creation_time
        FROM users WHERE username=?
    `, username))
}

func (u *users) List(ctx context.Context, excludeID string) ([]*model.User, error) {
	rows, err := u.db.QueryContext(ctx, `
        SELECT user_id, username, display_name, avatar_url, password_hash, creation_time
        FROM users WHERE user_id<>? ORDER BY creation_time DESC, user_id
    `, excludeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.User
	for rows.Next() {
		m, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUserRow(r rowScanner) (*model.User, error) {
	var out model.User
	if err := r.Scan(&out.UserID, &out.Username, &out.DisplayName, &out.AvatarURL, &out.PasswordHash, &out.CreationTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func scanUser(r *sql.Row) (*model.User, error) { return scanUserRow(r) }

// --- Conversations ---

type conversations struct{ db *sql.DB }

func (c *conversations) Create(ctx context.Context, in *model.Conversation) (*model.Conversation, error) {
	out := *in
	if out.ConversationID == "" {
		out.ConversationID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreationTime = now
	out.LastActivity = now
	out.Members = append([]string(nil), in.Members...)

	var directKey *string
	if len(out.Members) == 2 {
		k := store.DirectKey(out.Members[0], out.Members[1])
		directKey = &k
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, created_by, direct_key, creation_time, last_activity)
        VALUES (?,?,?,?,?)
    `, out.ConversationID, out.CreatedBy, directKey, out.CreationTime, out.LastActivity); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("direct conversation exists: %w", model.ErrConflict)
		}
		return nil, err
	}
	for _, member := range out.Members {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO conversation_members (conversation_id, user_id) VALUES (?,?)
        `, out.ConversationID, member); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *conversations) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var out model.Conversation
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, created_by, creation_time, last_activity
        FROM conversations WHERE conversation_id=?
    `, conversationID)
	if err := row.Scan(&out.ConversationID, &out.CreatedBy, &out.CreationTime, &out.LastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return c.hydrate(ctx, &out)
}

func (c *conversations) hydrate(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	members, err := c.Members(ctx, conv.ConversationID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	conv.Members = members

	row := c.db.QueryRowContext(ctx, `
        SELECT entry_id, conversation_id, sender_id, content, creation_time
        FROM entries WHERE conversation_id=? ORDER BY seq DESC LIMIT 1
    `, conv.ConversationID)
	var e model.Entry
	if err := row.Scan(&e.EntryID, &e.ConversationID, &e.SenderID, &e.Content, &e.CreationTime); err == nil {
		conv.LastEntry = &e
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return conv, nil
}

func (c *conversations) FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	var id string
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id FROM conversations WHERE direct_key=?
    `, store.DirectKey(userA, userB))
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return c.GetByID(ctx, id)
}

func (c *conversations) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT c.conversation_id, c.created_by, c.creation_time, c.last_activity
        FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.conversation_id
        WHERE m.user_id = ?
        ORDER BY c.last_activity DESC, c.conversation_id
    `, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Conversation
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ConversationID, &conv.CreatedBy, &conv.CreationTime, &conv.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, conv := range out {
		if _, err := c.hydrate(ctx, conv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *conversations) Members(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT user_id FROM conversation_members WHERE conversation_id=? ORDER BY user_id
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, model.ErrNotFound
	}
	return out, nil
}

func (c *conversations) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var one int
	row := c.db.QueryRowContext(ctx, `
        SELECT 1 FROM conversation_members WHERE conversation_id=? AND user_id=?
    `, conversationID, userID)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *conversations) Delete(ctx context.Context, conversationID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id=?`, conversationID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE conversation_id=?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id=?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Entries ---

type entries struct{ db *sql.DB }

func (e *entries) Create(ctx context.Context, in *model.Entry) (*model.Entry, error) {
	out := *in
	if out.EntryID == "" {
		out.EntryID = uuid.New().String()
	}
	out.CreationTime = time.Now().UTC()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Bump activity first; zero rows means the conversation is gone.
	res, err := tx.ExecContext(ctx, `
        UPDATE conversations SET last_activity=? WHERE conversation_id=?
    `, out.CreationTime, out.ConversationID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("conversation %s: %w", out.ConversationID, model.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO entries (entry_id, conversation_id, sender_id, content, creation_time)
        VALUES (?,?,?,?,?)
    `, out.EntryID, out.ConversationID, out.SenderID, out.Content, out.CreationTime); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *entries) GetByID(ctx context.Context, conversationID, entryID string) (*model.Entry, error) {
	var out model.Entry
	row := e.db.QueryRowContext(ctx, `
        SELECT entry_id, conversation_id, sender_id, content, creation_time
        FROM entries WHERE conversation_id=? AND entry_id=?
    `, conversationID, entryID)
	if err := row.Scan(&out.EntryID, &out.ConversationID, &out.SenderID, &out.Content, &out.CreationTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (e *entries) List(ctx context.Context, req model.ListEntriesRequest) ([]*model.Entry, error) {
	q := `
        SELECT entry_id, conversation_id, sender_id, content, creation_time
        FROM entries WHERE conversation_id=?`
	args := []any{req.ConversationID}
	if req.Before != nil {
		q += ` AND creation_time < ?`
		args = append(args, *req.Before)
	}
	q += ` ORDER BY seq`

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Entry
	for rows.Next() {
		var m model.Entry
		if err := rows.Scan(&m.EntryID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Keep the most recent Limit entries, still in ascending order.
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}
