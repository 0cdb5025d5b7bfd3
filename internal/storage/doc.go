// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations for rigrun-chat.
//
// Two backends implement Store:
//
//   - SQLiteStore: a single database file (modernc.org/sqlite, pure Go)
//   - FileStore: one JSON document per conversation
//
// Writes come from the turn orchestrator as messages are finalized. The
// read side (ListConversations, LoadConversation) serves the history
// command and conversation switching.
//
// # Usage
//
//	store, err := storage.Open(storage.BackendSQLite, "")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// # Storage Location
//
// Data is stored in ~/.rigrun-chat/ unless a path is given.
package storage
