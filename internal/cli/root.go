// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/router"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// rootOptions holds the global flags and what PersistentPreRunE loads.
type rootOptions struct {
	configPath string
	model      string
	budget     string
	verbose    bool
	quiet      bool

	cfg        *config.Config
	logger     *slog.Logger
	logCleanup func() error
}

// newRootCmd builds the full command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Streaming chat with OpenRouter models",
		Long: `rigrun-chat is a terminal chat client for OpenRouter.

Replies stream as they are generated, failed requests fall back to other
models according to your budget mode, and every conversation is saved
locally.

Run without a subcommand to start an interactive chat.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help and completion
			switch cmd.Name() {
			case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logCleanup != nil {
				_ = opts.logCleanup()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.rigrun-chat/config.toml)")
	flags.StringVarP(&opts.model, "model", "m", "", "model ID (overrides config)")
	flags.StringVarP(&opts.budget, "budget", "b", "", "fallback ranking: free-first, cost-effective, quality-first")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "minimal output")

	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newAskCmd(opts))
	rootCmd.AddCommand(newTUICmd(opts))
	rootCmd.AddCommand(newModelsCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))

	return rootCmd
}

// load reads the configuration, applies flag overrides and sets up logging.
func (o *rootOptions) load() error {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &ConfigError{Err: err}
	}

	if o.model != "" {
		cfg.Turn.Model = o.model
	}
	if o.budget != "" {
		mode, err := router.ParseBudgetMode(o.budget)
		if err != nil {
			return &UsageError{Message: err.Error()}
		}
		cfg.Turn.BudgetMode = mode.String()
	}

	level := cfg.LogLevel()
	if o.verbose {
		level = slog.LevelDebug
	}
	o.logger, o.logCleanup = config.SetupLogger(cfg.Logging.File, level)
	o.cfg = cfg
	return nil
}

// Execute runs the command tree.
func Execute() error {
	return newRootCmd().Execute()
}
