// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultIdleTimeout is the longest gap allowed between non-blank lines.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultMaxLineSize caps a single line. Longer lines are discarded.
	// SECURITY: bounds memory held for one frame.
	DefaultMaxLineSize = 1 << 20

	// payloadPreviewLen bounds how much of a malformed payload is logged.
	payloadPreviewLen = 120
)

// ErrIdleTimeout is returned when no non-blank line arrives within the
// inactivity window.
var ErrIdleTimeout = errors.New("stream idle timeout")

// ErrClosed is returned by Recv after Close was called mid-stream.
var ErrClosed = errors.New("stream closed")

// UpstreamError is an error object delivered inside the stream.
type UpstreamError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream error [%s]: %s", e.Code, e.Message)
	}
	return "upstream error: " + e.Message
}

// Event is one text delta.
type Event struct {
	Text string

	// Reasoning is set when Text came from the reasoning channel because
	// the frame carried no primary content.
	Reasoning bool
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Stream.
type Option func(*Stream)

// WithIdleTimeout sets the inactivity window. Non-positive values keep the
// default.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithLogger sets the logger for skipped frames.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxLineSize sets the per-line size cap.
func WithMaxLineSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxLineSize = n
		}
	}
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a pull-based sequence of text deltas over an event-stream body.
// Recv must be called from one goroutine; Close may be called from any.
type Stream struct {
	ctx         context.Context
	body        io.ReadCloser
	idleTimeout time.Duration
	maxLineSize int
	logger      *slog.Logger

	lines   chan []byte
	readErr error // written by the reader before lines is closed

	done      chan struct{}
	closeOnce sync.Once
	stopAfter func() bool

	idle *time.Timer
	err  error // sticky terminal result
}

// NewStream starts reading body. The caller must call Close, which also
// closes body.
func NewStream(ctx context.Context, body io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{
		ctx:         ctx,
		body:        body,
		idleTimeout: DefaultIdleTimeout,
		maxLineSize: DefaultMaxLineSize,
		logger:      slog.Default(),
		lines:       make(chan []byte),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sse")

	// RELIABILITY: a cancelled context closes the body so the blocked read
	// returns even when nobody is pulling.
	s.stopAfter = context.AfterFunc(ctx, func() { s.closeBody() })
	s.idle = time.NewTimer(s.idleTimeout)

	go s.readLoop()
	return s
}

// Recv returns the next delta. It returns io.EOF when the stream ends
// cleanly, ErrIdleTimeout after the inactivity window, the context error on
// cancellation, or an *UpstreamError. Once Recv returns an error it keeps
// returning the same error.
func (s *Stream) Recv() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	for {
		var (
			line    []byte
			ok      bool
			expired bool
		)
		select {
		case <-s.ctx.Done():
			return Event{}, s.finish(s.ctx.Err())

		case <-s.idle.C:
			// A line that was already waiting still counts.
			select {
			case line, ok = <-s.lines:
				expired = true
			default:
				return Event{}, s.finish(ErrIdleTimeout)
			}

		case line, ok = <-s.lines:
		}

		if !ok {
			return Event{}, s.finish(s.endCause())
		}
		if expired && isBlank(line) {
			return Event{}, s.finish(ErrIdleTimeout)
		}
		ev, emit, err := s.handleLine(line)
		if err != nil {
			return Event{}, s.finish(err)
		}
		if emit {
			return ev, nil
		}
	}
}

// endCause reports why the reader stopped.
func (s *Stream) endCause() error {
	if errors.Is(s.readErr, io.EOF) {
		return io.EOF
	}
	// A read failing because cancellation closed the body is reported as
	// the cancellation.
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if s.readErr != nil {
		return s.readErr
	}
	return io.EOF
}

// Close stops the reader and closes the body. It is safe to call more than
// once and from any goroutine.
func (s *Stream) Close() error {
	s.stopAfter()
	return s.closeBody()
}

func (s *Stream) closeBody() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}

func (s *Stream) finish(err error) error {
	s.err = err
	s.idle.Stop()
	s.Close()
	return err
}

// =============================================================================
// LINE HANDLING
// =============================================================================

// handleLine applies the line rules. emit reports whether ev carries text.
// io.EOF is returned for the [DONE] marker.
func (s *Stream) handleLine(raw []byte) (ev Event, emit bool, err error) {
	if isBlank(raw) {
		return Event{}, false, nil
	}
	line := bytes.TrimSuffix(raw, []byte("\r"))
	s.idle.Reset(s.idleTimeout)

	if !bytes.HasPrefix(line, []byte("data:")) {
		// Comments (": keepalive"), event:, id: and retry: lines.
		return Event{}, false, nil
	}

	payload := strings.TrimSpace(string(line[len("data:"):]))
	if payload == "" {
		return Event{}, false, nil
	}
	if strings.EqualFold(payload, "[DONE]") {
		return Event{}, false, io.EOF
	}
	return s.decode(payload)
}

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// frame is the subset of a chat completion chunk the parser needs.
type frame struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

func (s *Stream) decode(payload string) (Event, bool, error) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		s.logger.Debug("skipping malformed frame",
			"error", err,
			"payload", util.TruncateRunes(payload, payloadPreviewLen))
		return Event{}, false, nil
	}

	if f.Error != nil && f.Error.Message != "" {
		code := strings.Trim(string(f.Error.Code), `"`)
		if code == "null" {
			code = ""
		}
		return Event{}, false, &UpstreamError{Code: code, Message: f.Error.Message}
	}

	var content, reasoning strings.Builder
	for _, c := range f.Choices {
		content.WriteString(c.Delta.Content)
		reasoning.WriteString(c.Delta.Reasoning)
	}
	if content.Len() > 0 {
		return Event{Text: content.String()}, true, nil
	}
	if reasoning.Len() > 0 {
		return Event{Text: reasoning.String(), Reasoning: true}, true, nil
	}
	return Event{}, false, nil
}

// =============================================================================
// READER
// =============================================================================

// readLoop is the only place that blocks on the body. It delivers each
// newline-terminated line, then any unterminated trailing bytes.
func (s *Stream) readLoop() {
	defer close(s.lines)

	r := bufio.NewReaderSize(s.body, 32*1024)
	var buf []byte
	overflow := false

	for {
		chunk, err := r.ReadSlice('\n')
		if !overflow {
			buf = append(buf, chunk...)
			if len(buf) > s.maxLineSize+1 {
				s.logger.Warn("discarding oversized line", "limit", s.maxLineSize)
				buf = buf[:0]
				overflow = true
			}
		}

		switch {
		case err == nil:
			if !overflow {
				line := bytes.TrimSuffix(buf, []byte("\n"))
				if !s.send(line) {
					return
				}
			}
			buf = nil
			overflow = false
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			// Flush the unterminated tail through the same rules.
			if len(buf) > 0 && !overflow {
				if !s.send(buf) {
					return
				}
			}
			s.readErr = err
			return
		}
	}
}

func (s *Stream) send(line []byte) bool {
	select {
	case s.lines <- line:
		return true
	case <-s.done:
		return false
	}
}
