// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errclass maps transport and protocol failures into a closed set of
// semantic categories.
//
// It is the only place in rigrun-chat that interprets error semantics. The
// parser, runner and transport surface raw errors; Classify turns them into
// an *Error carrying a Category, a retryable flag, user-facing text and the
// technical message.
//
// Usage:
//
//	cerr := errclass.Classify(err)
//	if cerr.Retryable {
//	    // consult the fallback policy
//	}
//	fmt.Println(cerr.UserMessage)
package errclass
