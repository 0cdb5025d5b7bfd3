// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// Update handles Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case EventMsg:
		m.handleEvent(msg.Event)
		m.refresh()
		return m, waitForEvent(m.engine.Events())

	case turnDoneMsg:
		// A superseded submission reports late; only the latest one counts.
		if msg.seq != m.seq {
			return m, nil
		}
		m.streaming = false
		if msg.err != nil {
			var cerr *errclass.Error
			if !errors.As(msg.err, &cerr) {
				// Classified failures arrive as error messages already.
				m.addNotice(styles.StatusIndicators.Error + " " + msg.err.Error())
				m.refresh()
			}
		}
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = "Clipboard unavailable: " + msg.err.Error()
		} else {
			m.status = "Reply copied"
		}
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEYS
// =============================================================================

// handleKey runs view-level bindings. Unhandled keys go to the input.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.engine.Stop()
		m.cancel()
		return tea.Quit, true

	case key.Matches(msg, m.keys.Stop):
		if !m.engine.Stop() {
			m.status = "Nothing to stop"
		}
		return nil, true

	case key.Matches(msg, m.keys.New):
		conv, err := m.engine.NewConversation()
		if err != nil {
			m.status = err.Error()
			return nil, true
		}
		m.convID = conv.ID
		m.entries = nil
		m.lastReply = ""
		m.streaming = false
		m.seq++ // the superseded Send reports nothing
		m.status = "New conversation"
		m.refresh()
		return nil, true

	case key.Matches(msg, m.keys.Copy):
		if m.lastReply == "" {
			m.status = "No reply to copy"
			return nil, true
		}
		return copyCmd(m.lastReply), true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return nil, true

	case key.Matches(msg, m.keys.Submit):
		return m.submit(), true
	}
	return nil, false
}

// submit sends the input unless a reply is streaming.
func (m *Model) submit() tea.Cmd {
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return nil
	}
	if m.streaming {
		m.status = "Wait for the reply or press Esc to stop it"
		return nil
	}
	m.input.Reset()
	m.status = ""
	m.streaming = true
	m.seq++
	return tea.Batch(
		sendCmd(m.ctx, m.engine, m.seq, content),
		m.spinner.Tick,
	)
}

// =============================================================================
// EVENTS
// =============================================================================

// handleEvent applies one orchestrator event to the transcript.
func (m *Model) handleEvent(ev session.Event) {
	if ev.ConversationID != "" {
		if m.convID == "" {
			m.convID = ev.ConversationID
		} else if ev.ConversationID != m.convID {
			return
		}
	}

	switch ev.Kind {
	case session.EventMessageAppended, session.EventMessageUpdated:
		if ev.Message != nil {
			m.upsert(ev.Message)
		}

	case session.EventMessageRemoved:
		m.remove(ev.MessageID)

	case session.EventDisplay:
		e := m.find(ev.MessageID)
		if e == nil {
			e = &entry{id: ev.MessageID, kind: entryAssistant}
			m.entries = append(m.entries, e)
		}
		e.setText(ev.Text, ev.Final)

	case session.EventNotice:
		m.addNotice(ev.Text)

	case session.EventStateChanged:
		m.state = ev.State

	case session.EventTurnEnded:
		if res := ev.Result; res != nil && res.Err == nil && res.Content != "" {
			m.lastReply = res.Content
		}
	}
}
