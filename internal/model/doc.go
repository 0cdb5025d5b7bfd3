// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages and
// candidate backend models.
//
// This package defines the core domain types shared by the turn engine, the
// storage backends and the user interfaces.
//
// # Key Types
//
//   - Conversation: ordered messages plus title, model and system prompt
//   - Message: a chat entry whose lifecycle is tracked by a State tag
//   - State: Pending, Streaming or Finalized; finalization happens once
//   - Candidate: a backend model with capability and pricing metadata
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.AddUserMessage("Hello!")
//	reply := conv.AddAssistantMessage()
//	reply.BeginStreaming()
//	reply.SetStreamContent("Hi")
//	reply.Finalize("Hi there", nil)
package model
