// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chat/internal/session"
)

// =============================================================================
// MESSAGES
// =============================================================================

// EventMsg carries one orchestrator event.
type EventMsg struct {
	Event session.Event
}

// turnDoneMsg reports that Send returned. seq identifies the submission.
type turnDoneMsg struct {
	seq    int
	result *session.TurnResult
	err    error
}

// copiedMsg reports a clipboard write.
type copiedMsg struct {
	err error
}

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// waitForEvent reads the next orchestrator event.
func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		return EventMsg{Event: <-events}
	}
}

// sendCmd submits input and blocks until the turn ends.
func sendCmd(ctx context.Context, engine Engine, seq int, content string) tea.Cmd {
	return func() tea.Msg {
		res, err := engine.Send(ctx, session.Input{Content: content})
		return turnDoneMsg{seq: seq, result: res, err: err}
	}
}

// copyCmd writes text to the system clipboard.
func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{err: copyToClipboard(text)}
	}
}
