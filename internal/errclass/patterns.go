// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package errclass

import "strings"

// pattern maps keywords in an error message to a category.
type pattern struct {
	// Keywords to match (case-insensitive, any match triggers)
	Keywords []string
	Category Category
}

// patterns are ordered from MOST SPECIFIC to LEAST SPECIFIC.
// The first matching pattern wins.
var patterns = []pattern{
	{
		Keywords: []string{"api key not configured", "no auth credentials", "invalid api key", "unauthorized", "authentication failed"},
		Category: MissingCredential,
	},
	{
		Keywords: []string{"insufficient credits", "insufficient_quota", "payment required", "out of credits"},
		Category: InsufficientCredits,
	},
	{
		Keywords: []string{"does not support image", "image input", "not multimodal", "vision is not supported"},
		Category: ModelNotMultimodal,
	},
	{
		Keywords: []string{"context length", "context_length_exceeded", "maximum context", "too many tokens", "prompt is too long"},
		Category: ContextTooLong,
	},
	{
		Keywords: []string{"not a valid model", "invalid model"},
		Category: InvalidModel,
	},
	{
		Keywords: []string{"no endpoints found", "model not found", "no such model"},
		Category: ModelNotFound,
	},
	{
		Keywords: []string{"rate limit", "rate-limit", "too many requests", "429"},
		Category: RateLimited,
	},
	{
		Keywords: []string{"timed out", "timeout", "deadline exceeded"},
		Category: Timeout,
	},
	{
		Keywords: []string{"overloaded", "service unavailable", "bad gateway", "internal server error", "provider returned error"},
		Category: ServerUnavailable,
	},
	{
		Keywords: []string{"connection refused", "connection reset", "no such host", "network is unreachable", "broken pipe", "unexpected eof"},
		Category: Network,
	},
}

// matchPatterns returns the category of the first pattern matching msg.
func matchPatterns(msg string) (Category, bool) {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		for _, kw := range p.Keywords {
			if strings.Contains(lower, kw) {
				return p.Category, true
			}
		}
	}
	return Unknown, false
}
