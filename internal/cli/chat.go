// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for rigrun-chat.
//
// Command: chat (also the default when no subcommand is given)
//
// Examples:
//   rigrun-chat                                   Start interactive chat
//   rigrun-chat chat -m anthropic/claude-3.5-sonnet
//   rigrun-chat chat --budget cost-effective
//
// Interactive Commands (during chat):
//   /model [id]         Show or switch model
//   /budget [mode]      Show or switch fallback ranking
//   /new                Start a new conversation
//   /stop               Stop the current reply
//   /usage              Show session usage
//   /help               Show available commands
//   /quit, /q           Exit chat
//   Ctrl+C              Stop the current reply (at the prompt: exit)
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Replies stream as they arrive. Press Ctrl+C to stop a reply; the text shown
so far is kept. Type /help for slash commands.

Examples:
  rigrun-chat chat
  rigrun-chat chat -m anthropic/claude-3.5-sonnet
  rigrun-chat chat --budget cost-effective`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		// Fallback to temp directory if config dir unavailable
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	// SECURITY: History holds prompts, so 0600 (owner read/write only)
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// chatSession is the REPL state around one orchestrator.
type chatSession struct {
	opts    *rootOptions
	app     *app
	orch    *session.Orchestrator
	printer *turnPrinter
	out     io.Writer
}

func runChat(cmd *cobra.Command, opts *rootOptions) error {
	if !IsTTY() {
		return &UsageError{Message: "chat needs an interactive terminal; use 'rigrun-chat ask' for piped input"}
	}

	a := newApp(opts.cfg, opts.logger)
	defer a.close()

	orch := a.newOrchestrator(opts.cfg.Typewriter.Enabled)
	defer orch.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	startConfigWatch(ctx, opts, func(cfg *config.Config) { applyConfig(orch, cfg) })

	s := &chatSession{
		opts:    opts,
		app:     a,
		orch:    orch,
		printer: newTurnPrinter(os.Stdout, opts),
		out:     cmd.OutOrStdout(),
	}

	if !opts.quiet {
		s.printWelcome()
	}

	input := NewChatCLI()
	defer input.Close()

	for {
		line, err := input.ReadInput(PromptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt (liner.ErrPromptAborted) or Ctrl+D
			fmt.Fprintln(s.out)
			s.printExitSummary()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.handleSlashCommand(ctx, line)
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if quit {
				s.printExitSummary()
				return nil
			}
			continue
		}

		fmt.Fprintln(s.out)
		if _, err := runTurn(ctx, orch, s.printer, line); err != nil && !isClassified(err) {
			// Classified failures were already shown as an error message.
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		fmt.Fprintln(s.out)
	}
}

// startConfigWatch reloads typewriter and budget settings after the config
// file changes. Nothing is watched when no file exists.
func startConfigWatch(ctx context.Context, opts *rootOptions, apply func(*config.Config)) {
	path := opts.configPath
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil || found == "" {
			return
		}
		path = found
	}
	w, err := config.NewWatcher(path, config.DefaultDebounce, opts.logger)
	if err != nil {
		opts.logger.Warn("config hot reload unavailable", "path", path, "error", err)
		return
	}
	go func() {
		if err := w.Run(ctx, apply); err != nil {
			opts.logger.Warn("config watcher stopped", "error", err)
		}
	}()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// slashCommand is a parsed "/name args" line.
type slashCommand struct {
	name string
	arg  string
}

func parseSlashCommand(line string) slashCommand {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, arg, _ := strings.Cut(line, " ")
	return slashCommand{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// handleSlashCommand runs a slash command and reports whether to quit.
func (s *chatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	cmd := parseSlashCommand(line)

	switch cmd.name {
	case "quit", "q", "exit":
		return true, nil

	case "help", "h", "?":
		s.printHelp()

	case "model", "m":
		if cmd.arg == "" {
			fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Model:"), s.orch.Model())
			return false, nil
		}
		if err := s.checkModel(ctx, cmd.arg); err != nil {
			return false, err
		}
		s.orch.SelectModel(cmd.arg)
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[OK]"), "Model set to "+cmd.arg)

	case "budget", "b":
		if cmd.arg == "" {
			fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Budget:"), s.orch.BudgetMode())
			return false, nil
		}
		mode, err := router.ParseBudgetMode(cmd.arg)
		if err != nil {
			return false, err
		}
		s.orch.SetBudgetMode(mode)
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[OK]"), "Budget mode set to "+mode.String())

	case "new", "n", "clear":
		if _, err := s.orch.NewConversation(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("[OK]")+" Started a new conversation")

	case "stop":
		if !s.orch.Stop() {
			fmt.Fprintln(s.out, DimStyle.Render("Nothing to stop."))
		}

	case "usage", "u":
		fmt.Fprintln(s.out, s.app.usage.Summary())

	default:
		return false, fmt.Errorf("unknown command /%s (type /help)", cmd.name)
	}
	return false, nil
}

// checkModel rejects IDs missing from a reachable catalog. An unreachable
// catalog accepts anything.
func (s *chatSession) checkModel(ctx context.Context, id string) error {
	models, err := s.app.catalog.Models(ctx)
	if err != nil || len(models) == 0 {
		return nil
	}
	for _, m := range models {
		if m.ID == id {
			return nil
		}
	}
	return fmt.Errorf("model %q is not in the catalog (see 'rigrun-chat models')", id)
}

// =============================================================================
// OUTPUT
// =============================================================================

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("rigrun-chat "+Version))
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Model:"), s.orch.Model())
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Budget:"), s.orch.BudgetMode())
	if !s.app.client.IsConfigured() {
		fmt.Fprintln(s.out, WarningStyle.Render("No API key configured. Set OPENROUTER_API_KEY or cloud.api_key."))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+C to stop a reply, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out, TitleStyle.Render("Commands"))
	for _, row := range [][2]string{
		{"/model [id]", "Show or switch model"},
		{"/budget [mode]", "Show or switch fallback ranking"},
		{"/new", "Start a new conversation"},
		{"/stop", "Stop the current reply"},
		{"/usage", "Show session usage"},
		{"/quit", "Exit chat"},
	} {
		fmt.Fprintf(s.out, "  %s %s\n", RenderLabel(row[0]), row[1])
	}
}

func (s *chatSession) printExitSummary() {
	if s.opts.quiet {
		return
	}
	fmt.Fprintln(s.out, RenderSeparator(50))
	fmt.Fprintln(s.out, s.app.usage.Summary())
}

// isClassified reports whether err is a turn failure the orchestrator has
// already shown to the user.
func isClassified(err error) bool {
	var cerr *errclass.Error
	return errors.As(err, &cerr)
}
