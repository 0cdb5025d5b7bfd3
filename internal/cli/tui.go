// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - Full-screen chat for rigrun-chat.
//
// Command: tui
//
// Examples:
//   rigrun-chat tui
//   rigrun-chat tui -m google/gemini-flash-1.5 --budget quality

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/ui/chat"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the full-screen chat view",
		Long: `Start the full-screen chat view.

Keys: Enter sends, Alt+Enter inserts a newline, Esc stops a reply,
Ctrl+N starts a new conversation, Ctrl+Y copies the last reply and
Ctrl+C quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	if !IsTTY() || !IsStdoutTTY() {
		return &UsageError{Message: "tui needs an interactive terminal"}
	}

	a := newApp(opts.cfg, opts.logger)
	defer a.close()

	orch := a.newOrchestrator(opts.cfg.Typewriter.Enabled)
	defer orch.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	startConfigWatch(ctx, opts, func(cfg *config.Config) { applyConfig(orch, cfg) })

	m := chat.New(chat.Options{
		Engine:   orch,
		Markdown: opts.cfg.UI.Markdown,
		WordWrap: opts.cfg.UI.WordWrap,
		Logger:   opts.logger,
	})

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run tui: %w", err)
	}

	if !opts.quiet {
		fmt.Fprintln(cmd.OutOrStdout(), a.usage.Summary())
	}
	return nil
}
