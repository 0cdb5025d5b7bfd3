// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ROUTER: token estimation and per-turn cost
package router

import (
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// ============================================================================
// TOKEN ESTIMATION
// ============================================================================

// EstimateTokens approximates the token count of text.
// GPT-style: ~4 chars per token on average.
// Uses a blend of word and character estimates.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)

	tokens := (words + chars/4) / 2
	if tokens < 1 {
		return 1
	}
	return tokens
}

// EstimatePromptTokens sums the estimate over every message sent.
func EstimatePromptTokens(messages []*model.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// ============================================================================
// COST
// ============================================================================

// EstimateCostUSD prices a turn. Unknown pricing costs nothing.
func EstimateCostUSD(pricing *model.Pricing, promptTokens, completionTokens int) float64 {
	if pricing == nil {
		return 0
	}
	return float64(promptTokens)*pricing.Prompt + float64(completionTokens)*pricing.Completion
}

// EstimateUsage builds estimated usage for a turn the transport did not
// meter.
func EstimateUsage(prompt []*model.Message, completion string, pricing *model.Pricing, latency time.Duration) *model.Usage {
	in := EstimatePromptTokens(prompt)
	out := EstimateTokens(completion)
	return &model.Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
		Latency:          latency,
		CostUSD:          EstimateCostUSD(pricing, in, out),
		Estimated:        true,
	}
}
