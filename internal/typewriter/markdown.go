// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typewriter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// BLOCK STRUCTURE
// =============================================================================

// region is a half-open byte range [start, end).
type region struct {
	start, end int
}

func (g region) contains(pos int) bool {
	return pos > g.start && pos < g.end
}

// line is one line of text; end excludes the newline, next includes it.
type line struct {
	start, end, next int
}

func splitLines(text string) []line {
	var lines []line
	for pos := 0; pos < len(text); {
		nl := strings.IndexByte(text[pos:], '\n')
		if nl < 0 {
			lines = append(lines, line{start: pos, end: len(text), next: len(text)})
			break
		}
		lines = append(lines, line{start: pos, end: pos + nl, next: pos + nl + 1})
		pos += nl + 1
	}
	return lines
}

// blocks holds the structure SafeCut needs.
type blocks struct {
	tables    []region // tables, plus pending pipe lines at the end of the text
	fences    []region // closed fenced code blocks including their delimiter lines
	openFence int      // start of a fence whose closing line has not arrived, or -1
	breaks    []int    // positions just after a paragraph break
}

func scanBlocks(text string, ended bool) blocks {
	b := blocks{openFence: -1}
	lines := splitLines(text)

	inFence := false
	fenceStart := 0
	var fenceMarker string
	tableStart, tableLines := -1, 0

	closeTable := func(end int) {
		if tableStart < 0 {
			return
		}
		// A lone pipe line is a table only while more lines may follow.
		if tableLines >= 2 || (!ended && end == len(text)) {
			b.tables = append(b.tables, region{tableStart, end})
		}
		tableStart, tableLines = -1, 0
	}

	for _, ln := range lines {
		content := text[ln.start:ln.end]
		trimmed := strings.TrimSpace(content)

		if marker, ok := fenceDelimiter(trimmed); ok && (!inFence || strings.HasPrefix(trimmed, fenceMarker)) {
			closeTable(ln.start)
			if inFence {
				// The closing line counts once its newline is in.
				if ln.next == ln.end && !ended {
					break
				}
				b.fences = append(b.fences, region{fenceStart, ln.next})
				inFence = false
			} else {
				inFence = true
				fenceStart = ln.start
				fenceMarker = marker
			}
			continue
		}
		if inFence {
			continue
		}

		if strings.HasPrefix(trimmed, "|") {
			if tableStart < 0 {
				tableStart = ln.start
			}
			tableLines++
			continue
		}
		closeTable(ln.start)

		if trimmed == "" && ln.next > ln.end {
			b.breaks = append(b.breaks, ln.next)
		}
	}
	closeTable(len(text))
	switch {
	case inFence && ended:
		b.fences = append(b.fences, region{fenceStart, len(text)})
	case inFence:
		b.openFence = fenceStart
	}
	return b
}

// fenceDelimiter reports whether a trimmed line opens or closes a fence.
func fenceDelimiter(trimmed string) (string, bool) {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```", true
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~", true
	}
	return "", false
}

// =============================================================================
// SAFE CUT
// =============================================================================

// SafeCut moves a proposed display boundary so the prefix text[:cut] does
// not end inside a table or on an unterminated inline marker. ended reports
// that text is complete. The result may be smaller than cut (hold) or larger
// (jump past a structure whose end is already known).
func SafeCut(text string, cut int, ended bool) int {
	if cut <= 0 {
		return 0
	}
	if cut >= len(text) {
		cut = len(text)
		if ended {
			return cut
		}
	}

	b := scanBlocks(text, ended)

	// Tables: jump past finished ones, hold before ones still arriving.
	for _, t := range b.tables {
		if t.end == len(text) && !ended {
			if cut > t.start {
				return t.start
			}
			continue
		}
		if t.contains(cut) {
			cut = t.end
		}
	}

	// Code blocks: hold before one still arriving, jump past closed ones.
	if b.openFence >= 0 && cut > b.openFence {
		return b.openFence
	}
	for _, f := range b.fences {
		if f.contains(cut) {
			return f.end
		}
	}

	start, end := inlineBounds(text, cut, b)
	return inlineCut(text, cut, start, end, ended || end < len(text))
}

// inlineBounds returns the inline block around cut: from the last paragraph
// break, table or fence before it to the next one after it.
func inlineBounds(text string, cut int, b blocks) (start, end int) {
	end = len(text)
	for _, p := range b.breaks {
		if p <= cut && p > start {
			start = p
		}
		if p > cut && p-1 < end {
			end = p - 1
		}
	}
	for _, rs := range [][]region{b.tables, b.fences} {
		for _, g := range rs {
			if g.end <= cut && g.end > start {
				start = g.end
			}
			if g.start >= cut && g.start < end {
				end = g.start
			}
		}
	}
	if b.openFence >= cut && b.openFence < end {
		end = b.openFence
	}
	return start, end
}

// =============================================================================
// INLINE MARKERS
// =============================================================================

// inlineCut scans markers in text[start:end] that begin before cut.
// A span whose closer is already known extends the cut past the closer.
// An opener with no closer yet holds the cut before it, unless settled is
// true, in which case nothing more can arrive and the opener is literal.
func inlineCut(text string, cut, start, end int, settled bool) int {
	held := false
	for i := start; i < cut && i < end; {
		c := text[i]
		switch {
		case c == '`':
			n := runLength(text, i, end, '`')
			q := findRun(text, i+n, end, '`', n, false)
			if q >= 0 {
				if q+n > cut {
					return q + n
				}
				i = q + n
				continue
			}
			if !settled {
				cut, held = i, true
			}
			i += n

		case c == '*' || c == '_' || c == '~':
			n := runLength(text, i, end, c)
			if !canOpen(text, i, n, end, c, settled) {
				if n > 0 && i+n > cut && i+n <= end {
					// Never split a literal marker run.
					return i + n
				}
				i += n
				continue
			}
			q := findRun(text, i+n, end, c, n, true)
			if q >= 0 {
				if q+n > cut {
					return q + n
				}
				i = q + n
				continue
			}
			if !settled {
				cut, held = i, true
			}
			i += n

		case c == '[' || (c == '!' && i+1 < end && text[i+1] == '['):
			open := i
			if c == '!' {
				i++
			}
			spanEnd, pending := linkEnd(text, i, end, settled)
			switch {
			case pending:
				cut, held = open, true
				i++
			case spanEnd > cut:
				return spanEnd
			case spanEnd > 0:
				i = spanEnd
			default:
				i++
			}

		default:
			i++
		}
	}

	if held || (cut < end && isMarkerByte(text[cut])) {
		// Drop whitespace left dangling before a marker.
		for cut > start {
			r, size := utf8.DecodeLastRuneInString(text[:cut])
			if !unicode.IsSpace(r) {
				break
			}
			cut -= size
		}
	}
	return cut
}

func isMarkerByte(c byte) bool {
	switch c {
	case '*', '_', '~', '`', '[', '!':
		return true
	}
	return false
}

func runLength(text string, i, end int, c byte) int {
	n := 0
	for i+n < end && text[i+n] == c {
		n++
	}
	return n
}

// findRun finds the next maximal run of exactly n c's at or after from.
// When emphasis is set the run must follow a non-space character.
func findRun(text string, from, end int, c byte, n int, emphasis bool) int {
	for j := from; j < end; {
		if text[j] != c {
			j++
			continue
		}
		m := runLength(text, j, end, c)
		if m == n && (!emphasis || canClose(text, j, n, end, c)) {
			return j
		}
		j += m
	}
	return -1
}

// canOpen reports whether the run at i may open emphasis. A run at the very
// end of unsettled text may still become an opener.
func canOpen(text string, i, n, end int, c byte, settled bool) bool {
	if n > 3 || (c == '~' && n > 2) {
		return false
	}
	if i+n >= end {
		return !settled && i+n == len(text)
	}
	next, _ := utf8.DecodeRuneInString(text[i+n:])
	if unicode.IsSpace(next) {
		return false
	}
	if c == '_' && i > 0 {
		// Intraword underscores are literal.
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if isWordRune(prev) {
			return false
		}
	}
	return true
}

func canClose(text string, j, n, end int, c byte) bool {
	if j == 0 {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:j])
	if unicode.IsSpace(prev) {
		return false
	}
	if c == '_' && j+n < end {
		next, _ := utf8.DecodeRuneInString(text[j+n:])
		if isWordRune(next) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// linkEnd finds the end of a [text] or [text](url) span starting at the
// '[' at i. pending reports that the span may still complete. A zero end
// with pending false means the bracket is literal.
func linkEnd(text string, i, end int, settled bool) (spanEnd int, pending bool) {
	closeIdx := strings.IndexByte(text[i+1:end], ']')
	if closeIdx < 0 {
		return 0, !settled
	}
	after := i + 1 + closeIdx + 1
	if after >= end {
		// "[text]" at the end may still grow a "(url)".
		return after, !settled && after == len(text)
	}
	if text[after] != '(' {
		return after, false
	}
	paren := strings.IndexByte(text[after:end], ')')
	if paren < 0 {
		if settled {
			return after, false
		}
		return 0, true
	}
	return after + paren + 1, false
}
