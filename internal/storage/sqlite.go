// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// SchemaVersion tracks the database schema version for migrations
const SchemaVersion = 1

// Schema is the SQLite schema for conversations and messages.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,  -- Unix nanoseconds
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    seq INTEGER NOT NULL,         -- Insertion order within the conversation
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    state TEXT NOT NULL,
    streamed INTEGER NOT NULL DEFAULT 0,
    is_error INTEGER NOT NULL DEFAULT 0,
    model TEXT NOT NULL DEFAULT '',
    media TEXT,                   -- JSON
    usage TEXT,                   -- JSON
    routing TEXT,                 -- JSON
    created_at INTEGER NOT NULL,
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps conversations in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(
		"INSERT INTO metadata(key, value) VALUES('schema_version', ?) ON CONFLICT(key) DO NOTHING",
		fmt.Sprint(SchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Insert upserts msg. Its conversation row is created if missing.
func (s *SQLiteStore) Insert(ctx context.Context, msg *model.Message, conversationID string) error {
	media, usage, routing, err := encodeMessageJSON(msg)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations(id, created_at, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conversationID, now, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages(id, conversation_id, seq, role, content, state, streamed, is_error, model, media, usage, routing, created_at)
		VALUES(?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			state = excluded.state,
			streamed = excluded.streamed,
			is_error = excluded.is_error,
			model = excluded.model,
			media = excluded.media,
			usage = excluded.usage,
			routing = excluded.routing`,
		msg.ID, conversationID, conversationID,
		msg.Role.String(), msg.Content, msg.State.String(),
		boolToInt(msg.WasStreamed()), boolToInt(msg.IsError), msg.Model,
		media, usage, routing, msg.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	return tx.Commit()
}

// Update rewrites content, state, usage and routing of a stored message.
// A message that was never inserted is added.
func (s *SQLiteStore) Update(ctx context.Context, msg *model.Message, conversationID string) error {
	media, usage, routing, err := encodeMessageJSON(msg)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, state = ?, streamed = ?, is_error = ?, model = ?, media = ?, usage = ?, routing = ?
		WHERE id = ?`,
		msg.Content, msg.State.String(), boolToInt(msg.WasStreamed()), boolToInt(msg.IsError), msg.Model,
		media, usage, routing, msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.Insert(ctx, msg, conversationID)
	}
	return nil
}

// Touch upserts the conversation row and bumps updated_at.
func (s *SQLiteStore) Touch(ctx context.Context, conv *model.Conversation) error {
	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations(id, title, model, system_prompt, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			created_at = MIN(conversations.created_at, excluded.created_at),
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.Model, conv.SystemPrompt, created.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// DeleteAll removes every conversation and message.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// ListConversations returns conversation metadata, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			(SELECT content FROM messages m WHERE m.conversation_id = c.id AND m.role = 'user' ORDER BY m.seq LIMIT 1)
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	metas := make([]ConversationMeta, 0)
	for rows.Next() {
		var (
			meta             ConversationMeta
			created, updated int64
			preview          sql.NullString
		)
		if err := rows.Scan(&meta.ID, &meta.Summary, &meta.Model, &created, &updated, &meta.MessageCount, &preview); err != nil {
			return nil, err
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		meta.Preview = util.TruncateRunes(util.OneLine(preview.String), 80)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// LoadConversation reads a conversation and its messages in order.
func (s *SQLiteStore) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		conv             model.Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, model, system_prompt, created_at, updated_at FROM conversations WHERE id = ?", id).
		Scan(&conv.ID, &conv.Title, &conv.Model, &conv.SystemPrompt, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, state, streamed, is_error, model, media, usage, routing, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = make([]*model.Message, 0)
	for rows.Next() {
		var (
			sm                    StoredMessage
			streamed, isError     int
			media, usage, routing sql.NullString
			ts                    int64
		)
		if err := rows.Scan(&sm.ID, &sm.Role, &sm.Content, &sm.State, &streamed, &isError, &sm.Model, &media, &usage, &routing, &ts); err != nil {
			return nil, err
		}
		sm.Streamed = streamed != 0
		sm.IsError = isError != 0
		sm.Timestamp = time.Unix(0, ts)
		if err := decodeNullJSON(media, &sm.Media); err != nil {
			return nil, err
		}
		if err := decodeNullJSON(usage, &sm.Usage); err != nil {
			return nil, err
		}
		if err := decodeNullJSON(routing, &sm.Routing); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, sm.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func encodeMessageJSON(msg *model.Message) (media, usage, routing sql.NullString, err error) {
	if media, err = encodeNullJSON(len(msg.Media) > 0, msg.Media); err != nil {
		return
	}
	if usage, err = encodeNullJSON(msg.Usage != nil, msg.Usage); err != nil {
		return
	}
	routing, err = encodeNullJSON(msg.Routing != nil, msg.Routing)
	return
}

func encodeNullJSON(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeNullJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
