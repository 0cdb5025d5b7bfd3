// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE STATE
// =============================================================================

// State is the lifecycle tag of a message.
//
// Pending -> Streaming -> Finalized, or Pending -> Finalized for messages that
// never stream. Finalized is terminal.
type State int

const (
	StatePending State = iota
	StateStreaming
	StateFinalized
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState is the inverse of State.String. Unknown names parse as
// StateFinalized, which is what storage backends hold.
func ParseState(s string) State {
	switch s {
	case "pending":
		return StatePending
	case "streaming":
		return StateStreaming
	default:
		return StateFinalized
	}
}

// =============================================================================
// MESSAGE METADATA
// =============================================================================

// Usage holds token and cost figures for an assistant reply.
type Usage struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Latency          time.Duration `json:"latency_ns"`
	CostUSD          float64       `json:"cost_usd,omitempty"`

	// Estimated is set when the token counts were derived from text length
	// rather than reported by the backend.
	Estimated bool `json:"estimated,omitempty"`
}

// Routing records a fallback from one model to another.
type Routing struct {
	FromModel string `json:"from_model"`
	ToModel   string `json:"to_model"`
	Reason    string `json:"reason"`
}

// Attachment is media sent along with a user message.
type Attachment struct {
	MimeType string `json:"mime_type"`
	URL      string `json:"url"` // https:// or data: URL
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single entry in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content is mutable while the message streams and frozen afterwards.
	Content string       `json:"content"`
	Media   []Attachment `json:"media,omitempty"`

	State State `json:"state"`

	// streamed is sticky: once a message has streamed it stays marked after
	// finalization so the UI does not animate it again.
	streamed bool

	// IsError marks synthesized assistant error messages. They are shown and
	// stored but never sent back to the model.
	IsError bool `json:"is_error,omitempty"`

	Model   string   `json:"model,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
	Routing *Routing `json:"routing,omitempty"`
}

// NewMessage creates a finalized message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		State:     StateFinalized,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a pending assistant placeholder.
func NewAssistantMessage() *Message {
	return &Message{
		ID:        generateID(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
		State:     StatePending,
	}
}

// NewErrorMessage creates a finalized assistant message that reports a
// failure to the user.
func NewErrorMessage(text string) *Message {
	msg := NewMessage(RoleAssistant, text)
	msg.IsError = true
	return msg
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// RestoreMessage rebuilds a message loaded from storage, keeping the sticky
// streamed marker.
func RestoreMessage(m Message, streamed bool) *Message {
	m.streamed = streamed
	return &m
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// IsStreaming reports whether the message is still receiving content.
func (m *Message) IsStreaming() bool {
	return m.State == StateStreaming
}

// IsFinal reports whether the message has been finalized.
func (m *Message) IsFinal() bool {
	return m.State == StateFinalized
}

// WasStreamed reports whether the message went through StateStreaming.
func (m *Message) WasStreamed() bool {
	return m.streamed
}

// BeginStreaming moves a pending message into StateStreaming.
func (m *Message) BeginStreaming() bool {
	if m.State != StatePending {
		return false
	}
	m.State = StateStreaming
	m.streamed = true
	return true
}

// SetStreamContent replaces the content of a streaming message.
func (m *Message) SetStreamContent(content string) {
	if m.State == StateStreaming {
		m.Content = content
	}
}

// Finalize freezes the message with its final content and usage. It returns
// false if the message was already finalized, in which case nothing changes.
func (m *Message) Finalize(content string, usage *Usage) bool {
	if m.State == StateFinalized {
		return false
	}
	m.Content = content
	m.Usage = usage
	m.State = StateFinalized
	return true
}

// Freeze finalizes an interrupted message with whatever content was shown.
// A message that was still pending counts as streamed once it has content.
func (m *Message) Freeze(content string) bool {
	if m.State == StateFinalized {
		return false
	}
	if content != "" {
		m.streamed = true
	}
	m.Content = content
	m.State = StateFinalized
	return true
}

// Clone returns a copy that is safe to hand to another goroutine.
func (m *Message) Clone() *Message {
	c := *m
	if m.Media != nil {
		c.Media = append([]Attachment(nil), m.Media...)
	}
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	if m.Routing != nil {
		r := *m.Routing
		c.Routing = &r
	}
	return &c
}

// HasMedia reports whether the message carries attachments.
func (m *Message) HasMedia() bool {
	return len(m.Media) > 0
}

// Preview returns a rune-safe single-line preview of the content.
func (m *Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatStats returns "2.5s | 128 tokens | $0.0012" style statistics for an
// assistant reply, or "" when none were recorded.
func (m *Message) FormatStats() string {
	if m.Role != RoleAssistant || m.Usage == nil {
		return ""
	}
	parts := []string{fmt.Sprintf("%.1fs", m.Usage.Latency.Seconds())}
	if m.Usage.CompletionTokens > 0 {
		prefix := ""
		if m.Usage.Estimated {
			prefix = "~"
		}
		parts = append(parts, fmt.Sprintf("%s%d tokens", prefix, m.Usage.CompletionTokens))
	}
	if m.Usage.CostUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", m.Usage.CostUSD))
	}
	return strings.Join(parts, " | ")
}

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
