// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// =============================================================================
// TURN PRINTER
// =============================================================================

// turnPrinter writes orchestrator events to a terminal. Display frames are
// printed as deltas; when markdown is on, the finished reply replaces the
// raw text with its rendered form.
type turnPrinter struct {
	out      io.Writer
	markdown bool // rewrite finished replies through glamour
	width    int  // terminal width for row counting
	wrap     int  // glamour word wrap
	quiet    bool
	errors   bool // print error messages appended to the conversation

	printed string // raw reply text already on screen
}

func newTurnPrinter(out io.Writer, opts *rootOptions) *turnPrinter {
	tty := out == io.Writer(os.Stdout) && IsStdoutTTY()
	return &turnPrinter{
		out:      out,
		markdown: tty && opts.cfg.UI.Markdown,
		width:    GetTerminalWidth(),
		wrap:     wrapWidth(opts.cfg.UI.WordWrap),
		quiet:    opts.quiet,
		errors:   true,
	}
}

// handle renders one event.
func (p *turnPrinter) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventDisplay:
		p.display(ev.Text, ev.Final)

	case session.EventNotice:
		p.breakLine()
		fmt.Fprintln(p.out, WarningStyle.Render("["+ev.Text+"]"))

	case session.EventMessageAppended:
		if ev.Message != nil && ev.Message.IsError && p.errors {
			p.breakLine()
			fmt.Fprintln(p.out, ErrorStyle.Render("[Error]")+" "+ev.Message.Content)
		}

	case session.EventTurnEnded:
		p.breakLine()
		if res := ev.Result; res != nil && !p.quiet && res.Err == nil && !res.Cancelled {
			if stats := turnStats(res); stats != "" {
				fmt.Fprintln(p.out, DimStyle.Render(stats))
			}
		}
		p.printed = ""
	}
}

// display prints the part of text not yet on screen.
func (p *turnPrinter) display(text string, final bool) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.out, text[len(p.printed):])
	} else {
		// Display text only grows; anything else restarts the block.
		fmt.Fprint(p.out, eraseRows(rowsUsed(p.printed, p.width))+text)
	}
	p.printed = text

	if final && p.markdown && text != "" {
		fmt.Fprint(p.out, eraseRows(rowsUsed(p.printed, p.width)))
		fmt.Fprint(p.out, renderMarkdown(text, p.wrap))
		p.printed = ""
	}
}

// breakLine ends a partially printed reply line.
func (p *turnPrinter) breakLine() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.out)
	}
	p.printed = ""
}

// turnStats formats the one-line summary printed after a reply.
func turnStats(res *session.TurnResult) string {
	var parts []string
	if res.Model != "" {
		parts = append(parts, res.Model)
	}
	if res.Usage != nil {
		msg := model.Message{Role: model.RoleAssistant, Usage: res.Usage}
		if stats := msg.FormatStats(); stats != "" {
			parts = append(parts, stats)
		}
	}
	if res.Routing != nil {
		parts = append(parts, "fallback from "+res.Routing.FromModel)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " | ")
}

// =============================================================================
// TURN DRIVER
// =============================================================================

// runTurn sends input and renders events until the turn ends. Ctrl+C stops
// the turn; what was displayed is kept.
func runTurn(ctx context.Context, orch *session.Orchestrator, p *turnPrinter, input string) (*session.TurnResult, error) {
	type sendResult struct {
		res *session.TurnResult
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		res, err := orch.Send(ctx, session.Input{Content: input})
		done <- sendResult{res, err}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case ev := <-orch.Events():
			p.handle(ev)
		case <-sigCh:
			orch.Stop()
		case r := <-done:
			// Send returns after its last event is queued.
			drainEvents(orch, p)
			return r.res, r.err
		}
	}
}

func drainEvents(orch *session.Orchestrator, p *turnPrinter) {
	for {
		select {
		case ev := <-orch.Events():
			p.handle(ev)
		default:
			return
		}
	}
}
