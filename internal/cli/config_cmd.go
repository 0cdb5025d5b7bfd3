// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
		Long: `Show and edit configuration.

Keys use dot notation, e.g. turn.budget_mode or typewriter.speed.
'set' writes ~/.rigrun-chat/config.toml; environment overrides are never
written back.

Examples:
  rigrun-chat config show
  rigrun-chat config get turn.model
  rigrun-chat config set typewriter.speed 2
  rigrun-chat config set turn.fallback_models "openai/gpt-4o-mini,meta-llama/llama-3.1-8b-instruct:free"`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (API key redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), opts.cfg.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.EqualFold(args[0], "cloud.api_key") {
				return &UsageError{Message: "cloud.api_key is not printed; use 'config show' to see whether it is set"}
			}
			v, err := opts.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value in config.toml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPathTOML()
			if err != nil {
				return err
			}
			cfg, err := config.LoadRaw(path)
			if err != nil {
				return &ConfigError{Err: err}
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return &UsageError{Message: err.Error()}
			}
			cfg.SetDefaults()
			if err := cfg.Validate(); err != nil {
				return &ConfigError{Err: err}
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("[OK]"), args[0]+" updated in "+path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List configuration keys",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, key := range config.GetAllKeys() {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
		},
	})

	return cmd
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}
