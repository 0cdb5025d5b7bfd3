// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/storage"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List or show saved conversations",
		Long: `List saved conversations, or print one as Markdown.

Examples:
  rigrun-chat history
  rigrun-chat history conv_3f1c2a9e-...
  rigrun-chat history conv_3f1c2a9e-... --json > chat.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(opts.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				convs, err := store.ListConversations(cmd.Context())
				if err != nil {
					return fmt.Errorf("list conversations: %w", err)
				}
				fmt.Fprintln(out, strings.TrimRight(storage.FormatSessionList(convs), "\n"))
				return nil
			}

			id, err := resolveConversationID(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			conv, err := store.LoadConversation(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := storage.ExportJSON(conv)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			md := storage.ExportMarkdown(conv)
			if out == io.Writer(os.Stdout) && IsStdoutTTY() && opts.cfg.UI.Markdown {
				md = renderMarkdown(md, wrapWidth(opts.cfg.UI.WordWrap))
			}
			fmt.Fprint(out, md)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the conversation as JSON")
	return cmd
}

// resolveConversationID accepts a full ID or a unique prefix of one, as
// shown by the list view.
func resolveConversationID(ctx context.Context, store storage.Store, arg string) (string, error) {
	convs, err := store.ListConversations(ctx)
	if err != nil {
		return "", fmt.Errorf("list conversations: %w", err)
	}
	var matches []string
	for _, c := range convs {
		if c.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(c.ID, arg) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", arg, storage.ErrConversationNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", &UsageError{Message: fmt.Sprintf("%q matches %d conversations; use more characters", arg, len(matches))}
	}
}
