// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is implemented by every backend.
type Store interface {
	Insert(ctx context.Context, msg *model.Message, conversationID string) error
	Update(ctx context.Context, msg *model.Message, conversationID string) error
	Touch(ctx context.Context, conv *model.Conversation) error
	DeleteAll(ctx context.Context) error

	ListConversations(ctx context.Context) ([]ConversationMeta, error)
	LoadConversation(ctx context.Context, id string) (*model.Conversation, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Open creates the backend named by backend at path. An empty path uses the
// default location under ~/.rigrun-chat.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		if path == "" {
			dir, err := defaultDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "chat.db")
		}
		return NewSQLiteStore(path)
	case BackendJSON:
		if path == "" {
			dir, err := defaultDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "conversations")
		}
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func defaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".rigrun-chat"), nil
}

// =============================================================================
// STORED TYPES
// =============================================================================

// StoredConversation represents a persisted conversation.
type StoredConversation struct {
	// Identity
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Messages
	Messages []StoredMessage `json:"messages"`
}

// StoredMessage represents a persisted message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Streamed  bool      `json:"streamed,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	Model     string    `json:"model,omitempty"`

	Media   []model.Attachment `json:"media,omitempty"`
	Usage   *model.Usage       `json:"usage,omitempty"`
	Routing *model.Routing     `json:"routing,omitempty"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

func toStoredMessage(msg *model.Message) StoredMessage {
	return StoredMessage{
		ID:        msg.ID,
		Role:      msg.Role.String(),
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		State:     msg.State.String(),
		Streamed:  msg.WasStreamed(),
		IsError:   msg.IsError,
		Model:     msg.Model,
		Media:     msg.Media,
		Usage:     msg.Usage,
		Routing:   msg.Routing,
	}
}

func (m StoredMessage) toModel() *model.Message {
	return model.RestoreMessage(model.Message{
		ID:        m.ID,
		Role:      model.Role(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		State:     model.ParseState(m.State),
		IsError:   m.IsError,
		Model:     m.Model,
		Media:     m.Media,
		Usage:     m.Usage,
		Routing:   m.Routing,
	}, m.Streamed)
}

// toModel rebuilds the conversation for the orchestrator.
func (c *StoredConversation) toModel() *model.Conversation {
	conv := &model.Conversation{
		ID:           c.ID,
		Title:        c.Summary,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Messages:     make([]*model.Message, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		conv.Messages = append(conv.Messages, m.toModel())
	}
	return conv
}

// upsert replaces the message with the same ID or appends it.
func (c *StoredConversation) upsert(msg StoredMessage) {
	for i := range c.Messages {
		if c.Messages[i].ID == msg.ID {
			c.Messages[i] = msg
			return
		}
	}
	c.Messages = append(c.Messages, msg)
}

// GetPreview returns a preview string from the first user message.
// Returns empty string if no user messages exist.
func (c *StoredConversation) GetPreview() string {
	for _, msg := range c.Messages {
		if msg.Role == "user" && msg.Content != "" {
			return util.TruncateRunes(util.OneLine(msg.Content), 80)
		}
	}
	return ""
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is returned for IDs that cannot name a stored conversation.
var ErrInvalidID = errors.New("invalid conversation id")

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// FORMATTING AND EXPORT
// =============================================================================

// FormatSessionList formats conversations as a table: ID, creation time,
// message count and preview.
func FormatSessionList(sessions []ConversationMeta) string {
	if len(sessions) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	sb.WriteString("-----------------------------------------------------\n")
	sb.WriteString(formatPadded("ID", 13) + " " + formatPadded("Updated", 17) + " " + formatPadded("Messages", 8) + " Preview\n")
	sb.WriteString("-----------------------------------------------------\n")

	for _, s := range sessions {
		idStr := s.ID
		if len(idStr) > 13 {
			idStr = idStr[:13]
		}
		sb.WriteString(formatPadded(idStr, 13) + " " +
			formatPadded(s.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			formatPadded(strconv.Itoa(s.MessageCount), 8) + " " +
			util.TruncateRunes(s.Preview, 40) + "\n")
	}
	return sb.String()
}

// formatPadded pads a string to the specified width with spaces.
func formatPadded(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// ExportMarkdown renders a conversation as Markdown with role labels and
// timestamps.
func ExportMarkdown(conv *model.Conversation) string {
	var sb strings.Builder
	title := conv.Title
	if title == "" {
		title = conv.ID
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range conv.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		if stats := msg.FormatStats(); stats != "" {
			sb.WriteString("\n\n_" + stats + "_")
		}
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON exports the conversation as pretty-printed JSON.
func ExportJSON(conv *model.Conversation) ([]byte, error) {
	stored := StoredConversation{
		ID:           conv.ID,
		Summary:      conv.Title,
		Model:        conv.Model,
		SystemPrompt: conv.SystemPrompt,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, m := range conv.Messages {
		stored.Messages = append(stored.Messages, toStoredMessage(m))
	}
	return json.MarshalIndent(stored, "", "  ")
}

// validID rejects IDs that could escape the storage directory.
// SECURITY: IDs come from files and the command line.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
