// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter transport and model catalog.
//
// OpenRouter exposes many LLM providers behind one chat-completions API. This
// package only moves bytes: it sends requests, maps HTTP failures onto
// sentinel errors and hands live response bodies to the caller. Parsing the
// event stream and deciding what to do about failures happen elsewhere.
//
// # Key Types
//
//   - OpenRouterClient: HTTP client with optional client-side rate limiting
//   - ChatRequest / ChatMessage: request payloads, multi-part when media is attached
//   - StreamResponse: status code plus the live event-stream body
//   - CachedCatalog: TTL cache over ListModels
//
// # Usage
//
//	client := cloud.NewOpenRouterClient(apiKey).WithRateLimit(60)
//	resp, err := client.OpenStream(ctx, cloud.ChatRequest{
//	    Model:    "anthropic/claude-3.5-sonnet",
//	    Messages: []cloud.ChatMessage{cloud.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
//
// # Security
//
// API keys are never logged. Requests are logged by method, path, status and
// duration only, and the key is identified by a short SHA-256 fingerprint.
package cloud
