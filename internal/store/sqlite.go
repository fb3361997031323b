package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL DEFAULT '',
    segments TEXT,
    status TEXT NOT NULL DEFAULT 'streaming',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// schemaVersion is the version a fresh database starts at. Increment it with
// every new migration.
const schemaVersion = 1

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations = []migration{
	{
		version:     1,
		description: "add message status column",
		up: func(db *sql.DB) error {
			_, err := db.Exec("ALTER TABLE messages ADD COLUMN status TEXT NOT NULL DEFAULT 'complete'")
			if err != nil && !isDuplicateColumnError(err) {
				return err
			}
			return nil
		},
	},
}

// NewSQLiteStore opens or creates the database at path. ":memory:" is accepted.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&current)
	if err == nil && current >= schemaVersion {
		return nil
	}

	var existing int
	if qerr := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='messages'`).Scan(&existing); qerr != nil {
		return fmt.Errorf("check messages table: %w", qerr)
	}

	if _, xerr := db.Exec(schema); xerr != nil {
		return fmt.Errorf("create base schema: %w", xerr)
	}
	if _, xerr := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); xerr != nil {
		return fmt.Errorf("create schema_version table: %w", xerr)
	}

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("get current version: %w", err)
		}
		// a messages table without a version row predates versioning
		current = schemaVersion
		if existing > 0 {
			current = 0
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", current); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate column") || strings.Contains(s, "already exists")
}

// SaveMessage inserts or replaces msg. The creation time of an existing row is
// preserved.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	stamp(&msg, s.now())
	w, err := toWire(msg)
	if err != nil {
		return err
	}

	var segments any
	if len(w.Segments) > 0 {
		segments = string(w.Segments)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, segments, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			role = excluded.role,
			content = excluded.content,
			segments = excluded.segments,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, segments, msg.Status,
		msg.CreatedAt.UnixMilli(), msg.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

const selectColumns = `id, conversation_id, role, content, segments, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		w                wireMessage
		segments         sql.NullString
		created, updated int64
	)
	if err := row.Scan(&w.ID, &w.ConversationID, &w.Role, &w.Content, &segments, &w.Status, &created, &updated); err != nil {
		return Message{}, err
	}
	if segments.Valid {
		w.Segments = []byte(segments.String)
	}
	w.CreatedAt = time.UnixMilli(created)
	w.UpdatedAt = time.UnixMilli(updated)
	return fromWire(w)
}

// LoadMessage returns id.
func (s *SQLiteStore) LoadMessage(ctx context.Context, id string) (Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM messages WHERE id = ?", id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("load message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the messages of conversationID, oldest first. An empty
// conversationID lists every message.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := "SELECT " + selectColumns + " FROM messages"
	var args []any
	if conversationID != "" {
		query += " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ListConversations groups messages by conversation, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, COUNT(*), MAX(updated_at)
		FROM messages
		GROUP BY conversation_id
		ORDER BY MAX(updated_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c       Conversation
			updated int64
		)
		if err := rows.Scan(&c.ID, &c.MessageCount, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.UpdatedAt = time.UnixMilli(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteMessage removes id.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
