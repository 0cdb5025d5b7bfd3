// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides usage and cost tracking for rigrun-chat.
//
// Every finalized turn is recorded with its model, token counts and cost.
// Streamed turns carry estimated usage; one-shot turns carry the counts the
// API reported.
//
// # Key Types
//
//   - UsageTracker: records turns for the running session
//   - SessionUsage: aggregated usage, per model and overall
//   - UsageStorage: one JSON file per finished session
//
// # Usage
//
//	tracker := telemetry.NewUsageTracker(storage)
//	tracker.RecordTurn("openai/gpt-4o-mini", prompt, msg.Usage)
//	fmt.Println(tracker.Summary())
//
// # Privacy
//
// Usage tracking is local-only and does not transmit any data.
// Only the first 100 characters of each prompt are kept.
package telemetry
