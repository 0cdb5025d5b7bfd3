// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var (
		multimodal bool
		limit      int
		filter     string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models in fallback order",
		Long: `List the OpenRouter model catalog ranked the way fallbacks are chosen.

The ranking follows the budget mode (--budget or turn.budget_mode):
  free-first      free models first, then cheapest
  cost-effective  cheapest first, unknown prices last
  quality-first   largest context and multimodal first

Examples:
  rigrun-chat models
  rigrun-chat models --budget quality-first --multimodal
  rigrun-chat models --filter llama -n 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(opts.cfg, opts.logger)
			defer a.close()

			candidates, err := a.catalog.Models(cmd.Context())
			if err != nil && len(candidates) == 0 {
				return fmt.Errorf("list models: %w", err)
			}

			mode := opts.cfg.BudgetMode()
			ranked := selectModels(router.Rank(candidates, mode), multimodal, filter, limit)
			printModels(cmd.OutOrStdout(), ranked, mode, opts.cfg.Turn.Model)
			return nil
		},
	}

	cmd.Flags().BoolVar(&multimodal, "multimodal", false, "only models that accept images")
	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "max models to show (0 for all)")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only IDs or names containing this text")
	return cmd
}

// selectModels filters ranked candidates, keeping their order.
func selectModels(ranked []model.Candidate, multimodal bool, filter string, limit int) []model.Candidate {
	filter = strings.ToLower(strings.TrimSpace(filter))
	var out []model.Candidate
	for _, c := range ranked {
		if multimodal && !c.Multimodal {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(c.ID), filter) &&
			!strings.Contains(strings.ToLower(c.Name), filter) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printModels(w io.Writer, models []model.Candidate, mode router.BudgetMode, selected string) {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Models (%s)", mode)))
	if len(models) == 0 {
		fmt.Fprintln(w, "No models match.")
		return
	}

	fmt.Fprintf(w, "  %-48s %-12s %-9s %s\n", "ID", "$/1M tokens", "Context", "Score")
	fmt.Fprintln(w, RenderSeparator(80))
	for _, c := range models {
		marker := " "
		if c.ID == selected {
			marker = "*"
		}
		ctx := "-"
		if c.ContextLength > 0 {
			ctx = fmt.Sprintf("%dk", c.ContextLength/1000)
		}
		id := util.TruncateRunes(c.ID, 48)
		if c.Multimodal {
			id = util.TruncateRunes(c.ID, 44) + " [i]"
		}
		fmt.Fprintf(w, "%s %-48s %-12s %-9s %d\n", marker, id, formatPrice(c), ctx, router.QualityScore(c))
	}
}

// formatPrice renders the combined price per million tokens.
func formatPrice(c model.Candidate) string {
	price, ok := c.CombinedPrice()
	switch {
	case !ok:
		return "unknown"
	case price == 0:
		return "free"
	default:
		return fmt.Sprintf("%.2f", price*1_000_000)
	}
}
