// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typewriter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeCut(t *testing.T) {
	table := "Intro\n| a | b |\n|---|---|\n| 1 | 2 |\n"

	tests := []struct {
		name  string
		text  string
		cut   int
		ended bool
		want  string // expected prefix
	}{
		{"plain text", "Hello world", 5, false, "Hello"},
		{"open bold holds", "Hello **wor", 11, false, "Hello"},
		{"closed bold extends", "Hello **world** and", 9, false, "Hello **world**"},
		{"ended bold is literal", "Hello **wor", 9, true, "Hello **w"},
		{"code span extends", "use `x := 1` here", 7, false, "use `x := 1`"},
		{"open code span holds", "use `x :=", 9, false, "use"},
		{"lone trailing star holds", "hello *", 7, false, "hello"},
		{"bullet star is literal", "* item one", 3, false, "* i"},
		{"intraword underscore", "snake_case_name", 8, false, "snake_ca"},
		{"open underscore emphasis", "an _italic", 10, false, "an"},
		{"strikethrough extends", "a ~~gone~~ b", 5, false, "a ~~gone~~"},
		{"open link holds", "see [docs](http://x", 19, false, "see"},
		{"closed link extends", "see [docs](http://x) ok", 8, false, "see [docs](http://x)"},
		{"image link holds", "pic ![alt", 9, false, "pic"},
		{"bracket may grow url", "see [docs]", 10, false, "see"},
		{"plain brackets", "see [docs] ok", 7, false, "see [docs]"},
		{"paragraph break settles opener", "a *b\n\nnext", 4, false, "a *b"},
		{"earliest opener wins", "x **a _b", 8, false, "x"},
		{"whitespace before marker", "hello *world*", 6, false, "hello"},
		{"growing table holds", table, 20, false, "Intro\n"},
		{"growing table holds at end", table, len(table), false, "Intro\n"},
		{"finished table jumps", table + "After", 20, false, table},
		{"finished table when ended", table, 20, true, table},
		{"partial fence line holds", "Code:\n```go", 9, false, "Code:\n"},
		{"open fence holds at opener", "Code:\n```go\nx := *p\n", 14, false, "Code:\n"},
		{"partial closing line holds", "Code:\n```go\nx := *p\n```", 14, false, "Code:\n"},
		{"closed fence jumps", "```go\nx := *p\n```\nafter", 12, false, "```go\nx := *p\n```\n"},
		{"open fence when ended jumps", "```go\nx := *p\n", 12, true, "```go\nx := *p\n"},
		{"code span stops at open fence", "see `x\n```\ny` z", 6, false, "see `x"},
		{"after closed fence", "```\nx\n```\nthe **end", 16, false, "```\nx\n```\nthe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeCut(tt.text, tt.cut, tt.ended)
			assert.Equal(t, tt.want, tt.text[:got])
		})
	}
}

func TestSafeCut_NeverInsideFinishedTable(t *testing.T) {
	text := "Top\n| h1 | h2 |\n|----|----|\n| a  | b  |\n| c  | d  |\nBottom line"
	tStart := strings.Index(text, "|")
	tEnd := strings.Index(text, "Bottom")
	for cut := 0; cut <= len(text); cut++ {
		got := SafeCut(text, cut, false)
		assert.False(t, got > tStart && got < tEnd, "cut %d landed inside the table at %d", cut, got)
	}
}

func TestSafeCut_OpenMarkerCounts(t *testing.T) {
	text := "Some **bold** text with `code` and _emphasis_ and ~~strike~~ then more words to go"
	for cut := 0; cut <= len(text); cut++ {
		prefix := text[:SafeCut(text, cut, false)]
		for _, marker := range []string{"**", "`", "~~"} {
			assert.Zero(t, strings.Count(prefix, marker)%2, "prefix %q has open %s", prefix, marker)
		}
		assert.Zero(t, strings.Count(prefix, "_")%2, "prefix %q has open _", prefix)
	}
}

func TestSafeCut_NeverInsideOpenFence(t *testing.T) {
	text := "Run this:\n```sh\necho **hi**\nls | wc -l\n"
	fence := strings.Index(text, "```")
	for cut := 0; cut <= len(text); cut++ {
		got := SafeCut(text, cut, false)
		assert.LessOrEqual(t, got, fence, "cut %d showed part of an unterminated fence", cut)
	}

	closed := text + "```\nDone."
	end := strings.Index(closed, "Done.")
	for cut := 0; cut <= len(closed); cut++ {
		got := SafeCut(closed, cut, false)
		assert.False(t, got > fence && got < end, "cut %d landed inside the closed fence at %d", cut, got)
	}
}
