// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the orchestrator's position in the turn state machine.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateModelError
	StateDispatching
	StateStreaming
	StateNonStreaming
	StateFinalizing
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateModelError:
		return "model-error"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateNonStreaming:
		return "non-streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies an Event.
type EventKind int

const (
	// EventMessageAppended carries a message added to the conversation.
	EventMessageAppended EventKind = iota
	// EventMessageUpdated carries a message whose state or content changed.
	EventMessageUpdated
	// EventMessageRemoved names a placeholder that was dropped.
	EventMessageRemoved
	// EventDisplay carries the text to show for a streaming message.
	EventDisplay
	// EventNotice carries a UI-only notice. It is never persisted.
	EventNotice
	// EventStateChanged carries the new State.
	EventStateChanged
	// EventTurnEnded carries the TurnResult.
	EventTurnEnded
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventMessageAppended:
		return "message-appended"
	case EventMessageUpdated:
		return "message-updated"
	case EventMessageRemoved:
		return "message-removed"
	case EventDisplay:
		return "display"
	case EventNotice:
		return "notice"
	case EventStateChanged:
		return "state-changed"
	case EventTurnEnded:
		return "turn-ended"
	default:
		return "unknown"
	}
}

// Event is one observable step of a turn. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind           EventKind
	ConversationID string
	TurnID         string

	Message   *model.Message // appended and updated; a snapshot
	MessageID string         // removed and display
	Text      string         // display and notice
	Final     bool           // display: exact final text
	State     State          // state changed
	Result    *TurnResult    // turn ended
}

// Input is what the user submits.
type Input struct {
	Content string
	Media   []model.Attachment
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	TurnID         string
	BaseID         string
	ConversationID string
	MessageID      string // the assistant or error message, if any
	Content        string
	Model          string
	Attempts       int // fallbacks made
	ChunkCount     int
	Usage          *model.Usage
	Routing        *model.Routing
	Cancelled      bool // interrupted before it could finish
	Stopped        bool // interrupted by Stop
	Err            *errclass.Error
}
