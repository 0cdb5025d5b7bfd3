// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runner issues one chat request and aggregates the response.
//
// RunStream opens a streaming request, feeds the body through the sse
// parser and reports every fragment on a progress channel, in order, before
// reading the next one. RunNonStream issues a single request and returns the
// full payload with token usage.
//
// The runner never interprets failures. Transport and parser errors are
// returned as-is; cancellation is reported as ErrCancelled.
package runner
