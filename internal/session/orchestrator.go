// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/typewriter"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultEventBuffer is the Events channel capacity.
	DefaultEventBuffer = 64

	// StopNotice is shown when the user stops a turn.
	StopNotice = "Response stopped."

	persistTimeout = 5 * time.Second
)

var (
	// ErrEmptyInput is returned by Send for blank input without media.
	ErrEmptyInput = errors.New("message is empty")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")

	errUserStop   = errors.New("stopped by user")
	errSuperseded = errors.New("superseded by another turn")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// TurnConfig controls how turns are dispatched.
type TurnConfig struct {
	Model           string
	FallbackModels  []string // sent for server-side routing
	BudgetMode      router.BudgetMode
	Streaming       bool
	ContextMessages int // 0 sends the whole conversation
	SystemPrompt    string
}

// Options wires an Orchestrator. Runner is required.
type Options struct {
	Runner  Runner
	Catalog Catalog // nil trusts the selected model
	Store   Store   // nil disables persistence
	Policy  router.Policy
	Turn    TurnConfig

	Smoothing         bool
	Typewriter        typewriter.Config
	TypewriterOptions []typewriter.Option

	Usage       *telemetry.UsageTracker // optional
	Logger      *slog.Logger
	EventBuffer int
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs turns against the active conversation.
type Orchestrator struct {
	runner  Runner
	catalog Catalog
	store   Store
	policy  router.Policy
	usage   *telemetry.UsageTracker
	logger  *slog.Logger

	mu        sync.Mutex
	turnCfg   TurnConfig
	smoothing bool
	twCfg     typewriter.Config
	twOpts    []typewriter.Option
	conv      *model.Conversation
	state     State
	active    *turn
	resetting bool

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// turn is the bookkeeping for one Send.
type turn struct {
	id     string
	baseID string
	conv   *model.Conversation
	prompt string
	cancel context.CancelCauseFunc
	done   chan struct{}
	logger *slog.Logger
}

// New creates an Orchestrator with no conversation. The first Send creates
// one.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = nopStore{}
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = DefaultEventBuffer
	}
	policy := opts.Policy
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Orchestrator{
		runner:    opts.Runner,
		catalog:   opts.Catalog,
		store:     store,
		policy:    policy,
		usage:     opts.Usage,
		logger:    logger.With("component", "session"),
		turnCfg:   opts.Turn,
		smoothing: opts.Smoothing,
		twCfg:     opts.Typewriter,
		twOpts:    opts.TypewriterOptions,
		events:    make(chan Event, buf),
		closed:    make(chan struct{}),
	}
}

// Events returns the event channel. It is never closed; stop reading after
// Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Conversation returns a copy of the active conversation, or nil.
func (o *Orchestrator) Conversation() *model.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conv == nil {
		return nil
	}
	return o.conv.Clone()
}

// Model returns the selected model ID.
func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnCfg.Model
}

// BudgetMode returns the fallback ranking mode.
func (o *Orchestrator) BudgetMode() router.BudgetMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnCfg.BudgetMode
}

// SelectModel changes the model used from the next turn on. An empty or
// unknown ID is reported when that turn validates.
func (o *Orchestrator) SelectModel(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turnCfg.Model = id
	if o.conv != nil {
		o.conv.Model = id
	}
}

// SetBudgetMode changes the fallback ranking from the next turn on.
func (o *Orchestrator) SetBudgetMode(mode router.BudgetMode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turnCfg.BudgetMode = mode
}

// SetTypewriter changes display smoothing from the next turn on.
func (o *Orchestrator) SetTypewriter(enabled bool, cfg typewriter.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.smoothing = enabled
	o.twCfg = cfg
}

// Stop cancels the active turn. Whatever was displayed is kept and a stop
// notice is emitted. It reports whether a turn was active.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	t := o.active
	o.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel(errUserStop)
	return true
}

// NewConversation cancels the active turn without a notice and starts an
// empty conversation.
func (o *Orchestrator) NewConversation() (*model.Conversation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resetting {
		return nil, errclass.PersistenceBusy()
	}
	o.cancelActiveLocked(errSuperseded)
	o.conv = o.newConversationLocked()
	return o.conv.Clone(), nil
}

// SwitchConversation cancels the active turn without a notice and makes
// conv the active conversation. The orchestrator takes ownership of conv.
func (o *Orchestrator) SwitchConversation(conv *model.Conversation) error {
	if conv == nil {
		return errors.New("switch conversation: nil conversation")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resetting {
		return errclass.PersistenceBusy()
	}
	o.cancelActiveLocked(errSuperseded)
	o.conv = conv
	return nil
}

// Reset cancels the active turn, drops the conversation and deletes
// everything in the store. Turns submitted meanwhile fail with a
// try-later error.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.resetting {
		o.mu.Unlock()
		return errclass.PersistenceBusy()
	}
	o.resetting = true
	prev := o.cancelActiveLocked(errSuperseded)
	o.conv = nil
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.resetting = false
		o.mu.Unlock()
	}()

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := o.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("reset conversations: %w", err)
	}
	o.logger.Info("conversations reset")
	return nil
}

// Close cancels the active turn and releases blocked event sends.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.cancelActiveLocked(errSuperseded)
	o.mu.Unlock()
	o.closeOnce.Do(func() { close(o.closed) })
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) cancelActiveLocked(cause error) *turn {
	t := o.active
	if t != nil {
		t.cancel(cause)
	}
	return t
}

func (o *Orchestrator) newConversationLocked() *model.Conversation {
	conv := model.NewConversation()
	conv.Model = o.turnCfg.Model
	conv.SystemPrompt = o.turnCfg.SystemPrompt
	return conv
}

// =============================================================================
// EVENTS AND PERSISTENCE
// =============================================================================

// emit blocks until the event is taken or the orchestrator is closed, so
// events are never reordered or dropped while someone is reading.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.closed:
	}
}

func (o *Orchestrator) setState(t *turn, s State) {
	o.mu.Lock()
	if o.active != t || o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged, ConversationID: t.conv.ID, TurnID: t.id, State: s})
}

// persist runs a store call on its own deadline. A cancelled turn still
// saves what it has.
func (o *Orchestrator) persist(t *turn, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		t.logger.Warn("persistence failed", "op", op, "error", err)
	}
}

// saveMessage inserts a finalized message and touches its conversation.
func (o *Orchestrator) saveMessage(t *turn, msg *model.Message) {
	o.mu.Lock()
	meta := *t.conv
	meta.Messages = nil
	o.mu.Unlock()

	o.persist(t, "insert", func(ctx context.Context) error {
		return o.store.Insert(ctx, msg, t.conv.ID)
	})
	o.persist(t, "touch", func(ctx context.Context) error {
		return o.store.Touch(ctx, &meta)
	})
}

// appendMessage adds msg to the turn's conversation and announces it.
func (o *Orchestrator) appendMessage(t *turn, msg *model.Message) *model.Message {
	o.mu.Lock()
	t.conv.AddMessage(msg)
	snap := msg.Clone()
	o.mu.Unlock()
	o.emit(Event{Kind: EventMessageAppended, ConversationID: t.conv.ID, TurnID: t.id, Message: snap})
	return snap
}

// appendError ends a turn with one visible error message.
func (o *Orchestrator) appendError(t *turn, res *TurnResult, cerr *errclass.Error) {
	snap := o.appendMessage(t, model.NewErrorMessage(cerr.UserMessage))
	o.saveMessage(t, snap)
	res.Err = cerr
	if res.MessageID == "" {
		res.MessageID = snap.ID
	}
	t.logger.Warn("turn failed",
		"category", cerr.Category.String(),
		"retryable", cerr.Retryable,
		"error", cerr.TechnicalMessage)
}
