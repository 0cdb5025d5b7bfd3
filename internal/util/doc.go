// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigrun-chat.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - OneLine: collapses whitespace for previews and log attributes
//   - NormalizeText: NFC normalization of user supplied text
//
// # Usage
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Truncate long strings safely for display
//	preview := util.TruncateRunes(util.OneLine(msg.Content), 60)
package util
