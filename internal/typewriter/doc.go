// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package typewriter paces streamed text for display.
//
// A Renderer owns a growing target string and a displayed prefix. A single
// tick loop advances the prefix toward the target by a variable number of
// grapheme clusters per tick: large steps while far behind, small steps near
// the end. Two rules keep partial Markdown from flashing on screen:
//
//   - The prefix never stops inside a table. It holds before a table that is
//     still arriving and jumps past a finished one in one step.
//   - The prefix never ends on an unterminated inline marker (`, *, **, _,
//     __, ~, ~~, [, ![) or on whitespace right before one.
//
// After MarkStreamEnded the exact target is emitted once, unsanitized, as
// the final frame.
//
// Usage:
//
//	tw := typewriter.New(typewriter.DefaultConfig())
//	tw.Start(ctx)
//	go func() {
//	    for f := range tw.Frames() { ... }
//	}()
//	tw.UpdateTarget(partial)
//	tw.MarkStreamEnded()
//	<-tw.Done()
package typewriter
