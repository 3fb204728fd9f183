// Package postgres implements store.Store on PostgreSQL via the pgx stdlib
// driver. Schema setup is handled by migrations (see migrations/).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Users() store.Users                 { return &users{db: s.db} }
func (s *pgStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *pgStore) Entries() store.Entries             { return &entries{db: s.db} }

// HealthPing implements the health checker used by the HTTP layer.
func (s *pgStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.UserID == "" {
		out.UserID = uuid.New().String()
	}
	row := u.db.QueryRowContext(ctx, `
        INSERT INTO users (user_id, username, display_name, avatar_url, password_hash)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING creation_time
    `, out.UserID, out.Username, out.DisplayName, out.AvatarURL, out.PasswordHash)
	if err := row.Scan(&out.CreationTime); err != nil {
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
        FROM users WHERE user_id=$1
    `, userID))
}

func (u *users) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(u.db.QueryRowContext(ctx, `
        SELECT user_id, username, display_name, avatar_url, password_hash, creation_time
        FROM users WHERE username=$1
    `, username))
}

func (u *users) List(ctx context.Context, excludeID string) ([]*model.User, error) {
	rows, err := u.db.QueryContext(ctx, `
        SELECT user_id, username, display_name, avatar_url, password_hash, creation_time
        FROM users WHERE user_id<>$1 ORDER BY creation_time DESC, user_id
    `, excludeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.User
	for rows.Next() {
		var m model.User
		if err := rows.Scan(&m.UserID, &m.Username, &m.DisplayName, &m.AvatarURL, &m.PasswordHash, &m.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanUser(row *sql.Row) (*model.User, error) {
	var out model.User
	if err := row.Scan(&out.UserID, &out.Username, &out.DisplayName, &out.AvatarURL, &out.PasswordHash, &out.CreationTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// --- Conversations ---

type conversations struct{ db *sql.DB }

func (c *conversations) Create(ctx context.Context, in *model.Conversation) (*model.Conversation, error) {
	out := *in
	if out.ConversationID == "" {
		out.ConversationID = uuid.New().String()
	}
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

	row := tx.QueryRowContext(ctx, `
        INSERT INTO conversations (conversation_id, created_by, direct_key)
        VALUES ($1,$2,$3)
        RETURNING creation_time, last_activity
    `, out.ConversationID, out.CreatedBy, directKey)
	if err := row.Scan(&out.CreationTime, &out.LastActivity); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("direct conversation exists: %w", model.ErrConflict)
		}
		return nil, err
	}
	for _, member := range out.Members {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1,$2)
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
        FROM conversations WHERE conversation_id=$1
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
        FROM entries WHERE conversation_id=$1 ORDER BY seq DESC LIMIT 1
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
        SELECT conversation_id FROM conversations WHERE direct_key=$1
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
        WHERE m.user_id = $1
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
        SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY user_id
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
        SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2
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

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id=$1`, conversationID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE conversation_id=$1`, conversationID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id=$1`, conversationID); err != nil {
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

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
        INSERT INTO entries (entry_id, conversation_id, sender_id, content)
        VALUES ($1,$2,$3,$4)
        RETURNING creation_time
    `, out.EntryID, out.ConversationID, out.SenderID, out.Content)
	if err := row.Scan(&out.CreationTime); err != nil {
		var pgErr *pgconn.PgError
		// foreign_key_violation: the conversation is gone.
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("conversation %s: %w", out.ConversationID, model.ErrNotFound)
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE conversations SET last_activity=$1 WHERE conversation_id=$2
    `, out.CreationTime, out.ConversationID); err != nil {
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
        FROM entries WHERE conversation_id=$1 AND entry_id=$2
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
        FROM entries WHERE conversation_id=$1`
	args := []any{req.ConversationID}
	if req.Before != nil {
		q += ` AND creation_time < $2`
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
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}
