// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// LAYOUT
// =============================================================================

// resize lays the view out for a new window size.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.SetSize(width, height)

	m.input.SetWidth(max(width-4, 10))
	m.viewport.Width = width
	m.viewport.Height = max(height-headerHeight-statusHeight-inputHeight, 1)
	m.ready = true
	m.refresh()
}

// refresh rebuilds the transcript, following the bottom when the user has
// not scrolled away from it.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}

// contentWidth is the width available to message text.
func (m *Model) contentWidth() int {
	w := m.width - 2
	if m.wordWrap > 0 && m.wordWrap < w {
		w = m.wordWrap
	}
	return max(w, 20)
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat view.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.theme.InputContainer.Width(max(m.width-2, 10)).Render(m.input.View()),
		m.renderStatus(),
	)
}

func (m *Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("rigrun-chat")
	info := m.theme.HeaderModel.Render(m.engine.Model() + " | " + m.engine.BudgetMode().String())
	line := brand + "  " + info
	return m.theme.Header.Width(m.width).MaxHeight(headerHeight).Render(line)
}

func (m *Model) renderStatus() string {
	var parts []string
	if m.streaming {
		parts = append(parts, m.spinner.View()+" "+m.theme.StatusState.Render(stateLabel(m.state)))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}

	bindings := m.keys.ShortHelp()
	if m.streaming {
		bindings = m.keys.StreamingHelp()
	}
	if m.theme.GetLayoutMode() != styles.LayoutNarrow {
		parts = append(parts, m.renderShortcuts(bindings))
	}
	return m.theme.StatusBar.Width(m.width).MaxHeight(statusHeight).Render(strings.Join(parts, "  "))
}

func (m *Model) renderShortcuts(bindings []key.Binding) string {
	items := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		items = append(items, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return strings.Join(items, "  ")
}

// stateLabel names a turn state for the status bar.
func stateLabel(s session.State) string {
	switch s {
	case session.StateValidating:
		return "Checking model..."
	case session.StateDispatching:
		return "Connecting..."
	case session.StateStreaming:
		return "Streaming..."
	case session.StateNonStreaming:
		return "Waiting for reply..."
	case session.StateFinalizing:
		return "Finishing..."
	default:
		return "Working..."
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m *Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return m.theme.StatsText.Render("No messages yet. Type below and press Enter.")
	}
	width := m.contentWidth()
	blocks := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		blocks = append(blocks, m.renderEntry(e, width))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) renderEntry(e *entry, width int) string {
	wrap := lipgloss.NewStyle().Width(width)
	switch e.kind {
	case entryUser:
		return m.theme.UserLabel.Render("You") + "\n" +
			m.theme.UserText.Inherit(wrap).Render(e.text)

	case entryError:
		return m.theme.ErrorText.Inherit(wrap).Render(styles.StatusIndicators.Error + " " + e.text)

	case entryNotice:
		return m.theme.NoticeText.Inherit(wrap).Render("[" + e.text + "]")
	}

	body := m.theme.AssistantText.Inherit(wrap).Render(e.text)
	if e.final && m.markdown && e.text != "" {
		body = m.renderMarkdown(e, width)
	}
	out := m.theme.AssistantLabel.Render("Assistant") + "\n" + body
	if e.stats != "" {
		out += "\n" + m.theme.StatsText.Render(e.stats)
	}
	return out
}

// renderMarkdown renders a finished reply, caching the result per entry.
func (m *Model) renderMarkdown(e *entry, width int) string {
	if e.rendered != "" && e.renderedWidth == width {
		return e.rendered
	}
	if m.renderer == nil || m.rendererWidth != width {
		style := "dark"
		if !m.theme.IsDark {
			style = "light"
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			m.logger.Debug("markdown renderer unavailable", "error", err)
			return e.text
		}
		m.renderer = r
		m.rendererWidth = width
	}
	out, err := m.renderer.Render(e.text)
	if err != nil {
		return e.text
	}
	e.rendered = strings.Trim(out, "\n")
	e.renderedWidth = width
	return e.rendered
}
