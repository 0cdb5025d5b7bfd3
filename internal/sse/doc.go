// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse parses OpenAI-style Server-Sent Events into text deltas.
//
// A Stream wraps a live response body. A single reader goroutine owns the
// blocking read and hands complete lines to Recv, which applies the line
// rules and the inactivity window:
//
//	stream := sse.NewStream(ctx, resp.Body)
//	defer stream.Close()
//	for {
//	    ev, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(ev.Text)
//	}
//
// Malformed JSON payloads are logged and skipped. The stream ends cleanly on
// a [DONE] marker or when the body is exhausted.
package sse
