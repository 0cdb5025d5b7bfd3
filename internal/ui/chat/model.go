// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log/slog"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// Engine is the part of session.Orchestrator the view drives.
type Engine interface {
	Events() <-chan session.Event
	Send(ctx context.Context, in session.Input) (*session.TurnResult, error)
	Stop() bool
	NewConversation() (*model.Conversation, error)
	Model() string
	BudgetMode() router.BudgetMode
}

// Layout constants.
const (
	headerHeight = 1
	statusHeight = 1
	inputLines   = 3
	// inputHeight includes the rounded border.
	inputHeight = inputLines + 2

	// MaxInputChars bounds a single submission.
	MaxInputChars = 32000
)

// =============================================================================
// TRANSCRIPT ENTRIES
// =============================================================================

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
	entryNotice
)

// entry is one block of the transcript.
type entry struct {
	id    string // message ID; empty for notices
	kind  entryKind
	text  string
	final bool   // assistant text is complete and may be rendered as markdown
	stats string // shown under a finished reply

	// rendered caches markdown output for text at width.
	rendered      string
	renderedWidth int
}

// =============================================================================
// MODEL
// =============================================================================

// Options configures a Model.
type Options struct {
	Engine Engine
	// Markdown renders finished replies through glamour.
	Markdown bool
	// WordWrap caps the markdown wrap width. Zero follows the window.
	WordWrap int
	Logger   *slog.Logger
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	engine Engine
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	theme    *styles.Theme
	keys     KeyMap
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	markdown      bool
	wordWrap      int
	renderer      *glamour.TermRenderer
	rendererWidth int

	entries   []*entry
	convID    string // active conversation; empty until the first event
	state     session.State
	streaming bool
	seq       int // submission counter
	lastReply string
	status    string // transient status line text

	width  int
	height int
	ready  bool
}

// New creates a chat view model.
func New(opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	keys := DefaultKeyMap()

	ta := textarea.New()
	ta.Placeholder = "Ask anything..."
	ta.ShowLineNumbers = false
	ta.CharLimit = MaxInputChars
	ta.SetHeight(inputLines)
	// Enter submits; newline moves to its own binding.
	ta.KeyMap.InsertNewline = keys.Newline
	ta.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	theme := styles.NewTheme()
	sp.Style = theme.Spinner

	return Model{
		engine:   opts.Engine,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		theme:    theme,
		keys:     keys,
		viewport: viewport.New(0, 0),
		input:    ta,
		spinner:  sp,
		markdown: opts.Markdown,
		wordWrap: opts.WordWrap,
	}
}

// Init starts the event reader and the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.engine.Events()), textarea.Blink)
}

// Streaming reports whether a submission is in flight.
func (m Model) Streaming() bool {
	return m.streaming
}

// LastReply returns the text of the most recent finished reply.
func (m Model) LastReply() string {
	return m.lastReply
}

// =============================================================================
// TRANSCRIPT HELPERS
// =============================================================================

func (m *Model) find(id string) *entry {
	if id == "" {
		return nil
	}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].id == id {
			return m.entries[i]
		}
	}
	return nil
}

func (m *Model) remove(id string) {
	for i, e := range m.entries {
		if e.id == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// upsert adds msg to the transcript or refreshes its entry.
func (m *Model) upsert(msg *model.Message) {
	e := m.find(msg.ID)
	if e == nil {
		e = &entry{id: msg.ID}
		m.entries = append(m.entries, e)
	}
	switch {
	case msg.IsError:
		e.kind = entryError
	case msg.Role == model.RoleUser:
		e.kind = entryUser
	default:
		e.kind = entryAssistant
	}
	// Streaming content arrives through display events; the message snapshot
	// may be ahead of what the typewriter has shown.
	if msg.State == model.StateFinalized || e.kind != entryAssistant {
		e.setText(msg.Content, msg.State == model.StateFinalized)
	}
	if e.final && e.kind == entryAssistant && msg.Model != "" {
		stats := msg.Model
		if s := msg.FormatStats(); s != "" {
			stats += " | " + s
		}
		if msg.Routing != nil {
			stats += " | fallback from " + msg.Routing.FromModel
		}
		e.stats = stats
	}
}

// setText replaces the entry text and drops a stale markdown render.
func (e *entry) setText(text string, final bool) {
	if text != e.text {
		e.rendered = ""
	}
	e.text = text
	e.final = final
}

func (m *Model) addNotice(text string) {
	m.entries = append(m.entries, &entry{kind: entryNotice, text: text})
}
