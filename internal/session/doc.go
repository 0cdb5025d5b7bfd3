// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives chat turns for one conversation at a time.
//
// The Orchestrator owns the active conversation. A turn validates the
// selected model, dispatches through the runner, smooths display through
// the typewriter, falls back to another model on eligible failures and
// hands finished messages to the store.
//
// # Key Types
//
//   - Orchestrator: the send-message state machine
//   - Event: what the UI observes, in order, on Events()
//   - Store, Catalog, Runner: collaborators injected through Options
//
// # Usage
//
//	orch := session.New(session.Options{Runner: r, Catalog: cat, Store: st, Turn: turnCfg})
//	go render(orch.Events())
//	res, err := orch.Send(ctx, session.Input{Content: "hello"})
//
// # Concurrency
//
// At most one turn is active. Send blocks until its turn ends; starting
// another turn, switching conversation or calling Stop cancels the active
// one. Every Event is a snapshot and may be kept by the receiver.
package session
