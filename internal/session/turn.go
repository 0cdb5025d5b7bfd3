// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/runner"
	"github.com/jeranaias/rigrun-chat/internal/typewriter"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// SEND
// =============================================================================

// Send runs one turn to completion and blocks until it ends. Any active
// turn is cancelled first.
//
// The returned error is the classified failure that ended the turn, if
// any. An interrupted turn returns a result with Cancelled set and a nil
// error; its partial content has already been saved.
func (o *Orchestrator) Send(ctx context.Context, in Input) (*TurnResult, error) {
	if o.runner == nil {
		return nil, errors.New("session: no runner configured")
	}
	content := util.NormalizeText(in.Content)
	if content == "" && len(in.Media) == 0 {
		return nil, ErrEmptyInput
	}
	if o.isClosed() {
		return nil, ErrClosed
	}

	turnID := uuid.NewString()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	o.mu.Lock()
	if o.conv == nil && o.resetting {
		o.mu.Unlock()
		busy := errclass.PersistenceBusy()
		o.emit(Event{Kind: EventNotice, TurnID: turnID, Text: busy.UserMessage})
		return &TurnResult{TurnID: turnID, Err: busy}, busy
	}
	prev := o.cancelActiveLocked(errSuperseded)
	if o.conv == nil {
		o.conv = o.newConversationLocked()
	}
	t := &turn{
		id:     turnID,
		conv:   o.conv,
		prompt: content,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.baseID = t.conv.ID + "/" + turnID
	t.logger = o.logger.With("turn_id", t.id, "base_id", t.baseID)
	o.active = t
	cfg := o.turnCfg
	o.mu.Unlock()

	res := &TurnResult{TurnID: t.id, BaseID: t.baseID, ConversationID: t.conv.ID}
	start := time.Now()
	defer o.endTurn(t, res, start)

	if prev != nil {
		<-prev.done
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		res.Cancelled = true
		res.Stopped = errors.Is(context.Cause(ctx), errUserStop)
		return res, nil
	}

	t.logger.Info("turn start", "model", cfg.Model, "streaming", cfg.Streaming, "media", len(in.Media))

	// The user's message is visible before any network call.
	user := model.NewUserMessage(content)
	user.Media = in.Media
	o.saveMessage(t, o.appendMessage(t, user))

	o.setState(t, StateValidating)
	needsMedia := len(in.Media) > 0
	cand, available, cerr := o.validate(ctx, t, cfg.Model, needsMedia)
	if cerr != nil {
		o.setState(t, StateModelError)
		o.appendError(t, res, cerr)
		return res, cerr
	}

	return o.dispatch(ctx, t, res, cfg, cand, available, needsMedia)
}

// validate resolves the selected model against the catalog.
func (o *Orchestrator) validate(ctx context.Context, t *turn, selected string, needsMedia bool) (*model.Candidate, []model.Candidate, *errclass.Error) {
	selected = strings.TrimSpace(selected)
	if selected == "" {
		return nil, nil, errclass.ModelNotReady("")
	}
	if o.catalog == nil {
		return &model.Candidate{ID: selected}, nil, nil
	}

	available, err := o.catalog.Models(ctx)
	if err != nil && len(available) == 0 {
		// RELIABILITY: an unreachable catalog must not block chatting with a
		// model the user picked explicitly.
		t.logger.Warn("model catalog unavailable, using selection as-is", "model", selected, "error", err)
		return &model.Candidate{ID: selected}, nil, nil
	}

	cand := model.FindCandidate(available, selected)
	if cand == nil {
		return nil, nil, errclass.ModelNotReady(selected)
	}
	if needsMedia && !cand.Multimodal {
		return nil, nil, errclass.NotMultimodal(selected)
	}
	return cand, available, nil
}

// =============================================================================
// DISPATCH AND FALLBACK
// =============================================================================

// attemptOutcome is what one runner attempt produced.
type attemptOutcome struct {
	content    string // final, or partial on failure
	displayed  string // what the user had seen when interrupted
	finalShown bool   // the exact final text was already displayed
	chunks     int
	usage      *model.Usage // nil when the transport reported none
	model      string
	duration   time.Duration
	err        error
}

func (o *Orchestrator) dispatch(
	ctx context.Context,
	t *turn,
	res *TurnResult,
	cfg TurnConfig,
	cand *model.Candidate,
	available []model.Candidate,
	needsMedia bool,
) (*TurnResult, error) {
	msg := model.NewAssistantMessage()
	msg.Model = cand.ID
	o.appendMessage(t, msg)
	res.MessageID = msg.ID

	tried := router.NewTriedSet(cand.ID)
	var routing *model.Routing

	for {
		o.setState(t, StateDispatching)
		prompt, req := o.buildRequest(t, cfg, cand.ID, tried)

		var out attemptOutcome
		if cfg.Streaming {
			out = o.stream(ctx, t, msg, req)
		} else {
			out = o.oneShot(ctx, t, req)
		}
		res.ChunkCount += out.chunks

		if out.err == nil {
			o.finalize(t, res, msg, cand, routing, prompt, out)
			return res, nil
		}

		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(out.err, runner.ErrCancelled) {
			o.interrupt(ctx, t, res, msg, out)
			return res, nil
		}

		cerr := errclass.Classify(out.err)
		t.logger.Debug("attempt failed", "model", cand.ID, "attempt", res.Attempts, "category", cerr.Category.String())

		// Partial content is kept as-is rather than replaced by a retry.
		if out.content != "" {
			o.freezePartial(t, res, msg, out)
			o.appendError(t, res, cerr)
			return res, cerr
		}

		// A caller deadline ends the turn; another model would fail the same way.
		var next *model.Candidate
		if ctx.Err() == nil {
			next = o.policy.NextModel(cand, available, res.Attempts, cerr.Category, cfg.BudgetMode, tried, needsMedia)
		}
		if next == nil {
			o.removeMessage(t, msg)
			res.MessageID = ""
			o.appendError(t, res, cerr)
			return res, cerr
		}

		t.logger.Info("falling back",
			"from", cand.ID,
			"to", next.ID,
			"reason", cerr.Category.String(),
			"budget_mode", cfg.BudgetMode.String())

		tried.Add(next.ID)
		res.Attempts++
		routing = &model.Routing{FromModel: cand.ID, ToModel: next.ID, Reason: cerr.Category.String()}
		o.emit(Event{
			Kind:           EventNotice,
			ConversationID: t.conv.ID,
			TurnID:         t.id,
			Text:           fmt.Sprintf("Switching to %s after %s", next.DisplayName(), reasonText(cerr.Category)),
		})

		cand = next
		o.mu.Lock()
		msg.Model = cand.ID
		o.mu.Unlock()
	}
}

// buildRequest assembles the outbound context for one attempt. The
// placeholder is never part of it.
func (o *Orchestrator) buildRequest(t *turn, cfg TurnConfig, modelID string, tried router.TriedSet) ([]*model.Message, runner.Request) {
	o.mu.Lock()
	window := t.conv.ContextWindow(cfg.ContextMessages)
	system := t.conv.SystemPrompt
	prompt := make([]*model.Message, 0, len(window)+1)
	if system == "" {
		system = cfg.SystemPrompt
	}
	if system != "" {
		prompt = append(prompt, model.NewSystemMessage(system))
	}
	for _, m := range window {
		prompt = append(prompt, m.Clone())
	}
	o.mu.Unlock()

	msgs := make([]cloud.ChatMessage, 0, len(prompt))
	for _, m := range prompt {
		msgs = append(msgs, cloud.FromModelMessage(m))
	}

	var fallbacks []string
	for _, id := range cfg.FallbackModels {
		if id != modelID && !tried.Has(id) {
			fallbacks = append(fallbacks, id)
		}
	}

	return prompt, runner.Request{Messages: msgs, Model: modelID, FallbackModelIDs: fallbacks}
}

// =============================================================================
// ATTEMPTS
// =============================================================================

type streamOutcome struct {
	res runner.Result
	err error
}

// stream runs a streaming attempt. Progress is applied to msg in order;
// display goes through the typewriter when smoothing is on.
func (o *Orchestrator) stream(ctx context.Context, t *turn, msg *model.Message, req runner.Request) attemptOutcome {
	o.setState(t, StateStreaming)

	o.mu.Lock()
	smoothing, twCfg, twOpts := o.smoothing, o.twCfg, o.twOpts
	o.mu.Unlock()

	var tw *typewriter.Renderer
	var pumpDone <-chan struct{}
	if smoothing {
		tw = typewriter.New(twCfg, twOpts...)
		pumpDone = o.pump(t, msg.ID, tw)
		tw.Start(ctx)
	}

	progress := make(chan runner.Progress)
	result := make(chan streamOutcome, 1)
	go func() {
		r, err := o.runner.RunStream(ctx, req, progress)
		result <- streamOutcome{res: r, err: err}
	}()

	for p := range progress {
		o.mu.Lock()
		first := msg.BeginStreaming()
		msg.SetStreamContent(p.Content)
		var snap *model.Message
		if first {
			snap = msg.Clone()
		}
		o.mu.Unlock()

		if first {
			o.emit(Event{Kind: EventMessageUpdated, ConversationID: t.conv.ID, TurnID: t.id, Message: snap})
		}
		if tw != nil {
			tw.UpdateTarget(p.Content)
		} else {
			o.emit(Event{Kind: EventDisplay, ConversationID: t.conv.ID, TurnID: t.id, MessageID: msg.ID, Text: p.Content})
		}
	}
	r := <-result

	out := attemptOutcome{
		content:  r.res.FullContent,
		chunks:   r.res.ChunkCount,
		model:    r.res.Model,
		duration: r.res.Duration,
		err:      r.err,
	}
	if tw == nil {
		out.displayed = out.content
		return out
	}

	if out.err == nil {
		tw.UpdateTarget(out.content)
		tw.MarkStreamEnded()
		<-pumpDone
		switch {
		case tw.Displayed() == out.content:
			out.finalShown = true
		case errors.Is(ctx.Err(), context.Canceled):
			// Stopped while the typewriter was still catching up.
			out.err = fmt.Errorf("%w: %w", runner.ErrCancelled, context.Cause(ctx))
		}
	}
	tw.Cancel()
	<-pumpDone
	out.displayed = tw.Displayed()
	return out
}

// pump forwards typewriter frames as Display events until the final frame
// or until the renderer stops.
func (o *Orchestrator) pump(t *turn, msgID string, tw *typewriter.Renderer) <-chan struct{} {
	done := make(chan struct{})
	send := func(f typewriter.Frame) {
		o.emit(Event{Kind: EventDisplay, ConversationID: t.conv.ID, TurnID: t.id, MessageID: msgID, Text: f.Text, Final: f.Final})
	}
	go func() {
		defer close(done)
		for {
			select {
			case f := <-tw.Frames():
				send(f)
				if f.Final {
					return
				}
			case <-tw.Done():
				select {
				case f := <-tw.Frames():
					send(f)
				default:
				}
				return
			}
		}
	}()
	return done
}

// oneShot runs a non-streaming attempt.
func (o *Orchestrator) oneShot(ctx context.Context, t *turn, req runner.Request) attemptOutcome {
	o.setState(t, StateNonStreaming)
	r, err := o.runner.RunNonStream(ctx, req)
	return attemptOutcome{
		content:  r.Content,
		usage:    r.Usage,
		model:    r.Model,
		duration: r.Duration,
		err:      err,
	}
}

// =============================================================================
// ENDINGS
// =============================================================================

// finalize freezes a successful answer, saves it and records usage.
func (o *Orchestrator) finalize(
	t *turn,
	res *TurnResult,
	msg *model.Message,
	cand *model.Candidate,
	routing *model.Routing,
	prompt []*model.Message,
	out attemptOutcome,
) {
	o.setState(t, StateFinalizing)

	usage := out.usage
	if usage == nil {
		usage = router.EstimateUsage(prompt, out.content, cand.Pricing, out.duration)
	} else if usage.CostUSD == 0 {
		usage.CostUSD = router.EstimateCostUSD(cand.Pricing, usage.PromptTokens, usage.CompletionTokens)
	}
	modelID := cand.ID
	if out.model != "" {
		modelID = out.model
	}

	o.mu.Lock()
	msg.Model = modelID
	msg.Routing = routing
	msg.Finalize(out.content, usage)
	snap := msg.Clone()
	o.mu.Unlock()

	if !out.finalShown {
		o.emit(Event{Kind: EventDisplay, ConversationID: t.conv.ID, TurnID: t.id, MessageID: msg.ID, Text: out.content, Final: true})
	}
	o.emit(Event{Kind: EventMessageUpdated, ConversationID: t.conv.ID, TurnID: t.id, Message: snap})
	o.saveMessage(t, snap)

	if o.usage != nil {
		o.usage.RecordTurn(modelID, t.prompt, usage)
	}

	res.Content = out.content
	res.Model = modelID
	res.Usage = usage
	res.Routing = routing
}

// interrupt keeps what was displayed when a turn is stopped or superseded.
// Only a user stop shows the notice.
func (o *Orchestrator) interrupt(ctx context.Context, t *turn, res *TurnResult, msg *model.Message, out attemptOutcome) {
	stopped := errors.Is(context.Cause(ctx), errUserStop)
	o.setState(t, StateCancelled)

	o.mu.Lock()
	msg.Freeze(out.displayed)
	snap := msg.Clone()
	o.mu.Unlock()

	res.Cancelled = true
	res.Stopped = stopped
	res.Model = snap.Model
	if snap.Content == "" {
		o.removeMessage(t, msg)
		res.MessageID = ""
	} else {
		o.emit(Event{Kind: EventMessageUpdated, ConversationID: t.conv.ID, TurnID: t.id, Message: snap})
		o.saveMessage(t, snap)
		res.Content = snap.Content
	}

	if stopped {
		o.emit(Event{Kind: EventNotice, ConversationID: t.conv.ID, TurnID: t.id, Text: StopNotice})
	}
}

// freezePartial keeps content received before a failure.
func (o *Orchestrator) freezePartial(t *turn, res *TurnResult, msg *model.Message, out attemptOutcome) {
	o.mu.Lock()
	msg.Freeze(out.content)
	snap := msg.Clone()
	o.mu.Unlock()

	o.emit(Event{Kind: EventDisplay, ConversationID: t.conv.ID, TurnID: t.id, MessageID: msg.ID, Text: out.content, Final: true})
	o.emit(Event{Kind: EventMessageUpdated, ConversationID: t.conv.ID, TurnID: t.id, Message: snap})
	o.saveMessage(t, snap)
	res.Content = snap.Content
	res.Model = snap.Model
}

// removeMessage drops an empty placeholder.
func (o *Orchestrator) removeMessage(t *turn, msg *model.Message) {
	o.mu.Lock()
	removed := t.conv.Remove(msg.ID)
	o.mu.Unlock()
	if removed {
		o.emit(Event{Kind: EventMessageRemoved, ConversationID: t.conv.ID, TurnID: t.id, MessageID: msg.ID})
	}
}

// endTurn logs the single turn-end record and releases the turn slot.
func (o *Orchestrator) endTurn(t *turn, res *TurnResult, start time.Time) {
	outcome := "finalized"
	switch {
	case res.Err != nil:
		outcome = "failed"
	case res.Stopped:
		outcome = "stopped"
	case res.Cancelled:
		outcome = "cancelled"
	}
	t.logger.Info("turn end",
		"state", outcome,
		"chunks", res.ChunkCount,
		"duration", time.Since(start),
		"model", res.Model,
		"attempt", res.Attempts)

	final := *res
	o.emit(Event{Kind: EventTurnEnded, ConversationID: t.conv.ID, TurnID: t.id, Result: &final})

	o.mu.Lock()
	idle := o.active == t
	if idle {
		o.active = nil
		o.state = StateIdle
	}
	o.mu.Unlock()
	if idle {
		o.emit(Event{Kind: EventStateChanged, ConversationID: t.conv.ID, TurnID: t.id, State: StateIdle})
	}
	close(t.done)
}

// reasonText turns a category into the phrase used in fallback notices.
func reasonText(c errclass.Category) string {
	return strings.ReplaceAll(c.String(), "-", " ")
}
