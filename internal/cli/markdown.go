// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderers caches one glamour renderer per wrap width.
// USABILITY: Renders finished replies with syntax highlighting and formatting.
var (
	markdownMu        sync.Mutex
	markdownRenderers = map[int]*glamour.TermRenderer{}
)

func markdownRenderer(width int) *glamour.TermRenderer {
	markdownMu.Lock()
	defer markdownMu.Unlock()

	if r, ok := markdownRenderers[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Fallback to plain text if renderer initialization fails
		r = nil
	}
	markdownRenderers[width] = r
	return r
}

// renderMarkdown renders markdown content for terminal display. Returns the
// original content if rendering fails or renderer is unavailable.
func renderMarkdown(content string, width int) string {
	r := markdownRenderer(width)
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n") + "\n"
}

// wrapWidth returns the word-wrap column for rendered replies: the
// configured width, capped by the terminal.
func wrapWidth(configured int) int {
	width := GetTerminalWidth() - 2
	if configured > 0 && configured < width {
		return configured
	}
	return width
}
