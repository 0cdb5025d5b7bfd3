// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the rigrun-chat command tree.
//
// Commands are built with cobra. Every command shares the same wiring:
// configuration is loaded once in the root's PersistentPreRunE, then the
// command builds the OpenRouter client, model catalog, conversation store
// and usage tracker it needs through newApp.
//
// # Commands
//
//   - chat: Interactive REPL with streaming output (default)
//   - ask: Single turn, streamed or one-shot
//   - tui: Full-screen chat view
//   - models: Model catalog ranked by budget mode
//   - history: Stored conversations
//   - config: Show, get and set configuration values
//
// All commands return errors; main prints them and exits with ExitCode.
package cli
