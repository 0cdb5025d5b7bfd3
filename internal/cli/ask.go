// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single-turn command for rigrun-chat.
//
// Command: ask
//
// Examples:
//   rigrun-chat ask "What is the capital of France?"
//   rigrun-chat ask --no-stream "Summarize RFC 9110 in one line"
//   cat notes.md | rigrun-chat ask "Turn these notes into a checklist"

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/errclass"
)

// maxStdinBytes bounds piped context for ask.
const maxStdinBytes = 1 << 20

func newAskCmd(opts *rootOptions) *cobra.Command {
	var noStream bool

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask a single question",
		Long: `Ask a single question and print the reply.

Piped stdin is appended to the prompt. The reply streams unless --no-stream
is given; the conversation is saved like any chat.

Examples:
  rigrun-chat ask "What is the capital of France?"
  rigrun-chat ask --no-stream "Summarize RFC 9110 in one line"
  cat notes.md | rigrun-chat ask "Turn these notes into a checklist"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if !IsTTY() {
				piped, err := readPiped(cmd.InOrStdin())
				if err != nil {
					return err
				}
				if piped != "" {
					prompt += "\n\n" + piped
				}
			}
			return runAsk(cmd, opts, prompt, noStream)
		},
	}

	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming")
	return cmd
}

func runAsk(cmd *cobra.Command, opts *rootOptions, prompt string, noStream bool) error {
	if noStream {
		opts.cfg.Turn.Streaming = false
	}

	a := newApp(opts.cfg, opts.logger)
	defer a.close()

	out := cmd.OutOrStdout()
	// Smoothing only helps a human watching a terminal.
	orch := a.newOrchestrator(opts.cfg.Typewriter.Enabled && out == io.Writer(os.Stdout) && IsStdoutTTY())
	defer orch.Close()

	printer := newTurnPrinter(out, opts)
	printer.errors = false

	// A stopped reply is not an error; the stop notice was printed.
	_, err := runTurn(cmd.Context(), orch, printer, prompt)
	if err != nil {
		var cerr *errclass.Error
		if errors.As(err, &cerr) {
			return fmt.Errorf("%s (%w)", cerr.UserMessage, cerr)
		}
		return err
	}
	return nil
}

// readPiped reads stdin up to maxStdinBytes.
func readPiped(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxStdinBytes+1))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if len(data) > maxStdinBytes {
		return "", &UsageError{Message: fmt.Sprintf("piped input exceeds %d bytes", maxStdinBytes)}
	}
	return strings.TrimSpace(string(data)), nil
}
