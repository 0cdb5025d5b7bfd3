// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/sse"
)

// ErrCancelled is returned when the turn's context is cancelled. It wraps
// the context's cause.
var ErrCancelled = errors.New("turn cancelled")

// Transport is the subset of the API client the runner needs.
// *cloud.OpenRouterClient satisfies it.
type Transport interface {
	OpenStream(ctx context.Context, req cloud.ChatRequest) (*cloud.StreamResponse, error)
	Complete(ctx context.Context, req cloud.ChatRequest) (*cloud.ChatResponse, error)
}

// =============================================================================
// TYPES
// =============================================================================

// Request describes one attempt.
type Request struct {
	Messages []cloud.ChatMessage
	Model    string

	// FallbackModelIDs are offered to the server for its own routing.
	FallbackModelIDs []string
}

// Progress reports the running state after one fragment.
type Progress struct {
	Chunk     int    // 1-based fragment count
	Delta     string // the fragment itself
	Content   string // everything received so far
	Reasoning bool   // fragment came from the reasoning channel
}

// Result is the outcome of a streamed attempt. On failure it holds the
// partial content received before the error.
type Result struct {
	FullContent string
	ChunkCount  int
	Duration    time.Duration
	Model       string
}

// DurationMs returns Duration in milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// NonStreamResult is the outcome of a one-shot attempt.
type NonStreamResult struct {
	Content  string
	Usage    *model.Usage // nil when the transport reported none
	Model    string
	Duration time.Duration
}

// =============================================================================
// RUNNER
// =============================================================================

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIdleTimeout sets the parser's inactivity window.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Runner) { r.idleTimeout = d }
}

// WithTemperature sets the sampling temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(r *Runner) { r.temperature = t }
}

// WithMaxTokens caps the completion length sent with each request.
func WithMaxTokens(n int) Option {
	return func(r *Runner) { r.maxTokens = n }
}

// Runner executes attempts against a Transport. It holds no per-turn state
// and is safe for concurrent use.
type Runner struct {
	transport   Transport
	logger      *slog.Logger
	idleTimeout time.Duration
	temperature float64
	maxTokens   int
}

// New creates a Runner.
func New(transport Transport, opts ...Option) *Runner {
	r := &Runner{
		transport:   transport,
		logger:      slog.Default(),
		idleTimeout: sse.DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runner")
	return r
}

func (r *Runner) chatRequest(req Request) cloud.ChatRequest {
	return cloud.ChatRequest{
		Model:       req.Model,
		Models:      req.FallbackModelIDs,
		Messages:    req.Messages,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}
}

// RunStream runs a streaming attempt. Each fragment is sent on progress
// before the next one is read; progress is closed when RunStream returns
// and may be nil. Cancellation is checked at every fragment boundary and
// yields ErrCancelled with the partial result. An expired deadline is
// returned as context.DeadlineExceeded instead.
func (r *Runner) RunStream(ctx context.Context, req Request, progress chan<- Progress) (res Result, err error) {
	if progress != nil {
		defer close(progress)
	}
	start := time.Now()
	res.Model = req.Model
	defer func() {
		res.Duration = time.Since(start)
		if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = contextError(ctx)
		}
	}()

	resp, err := r.transport.OpenStream(ctx, r.chatRequest(req))
	if err != nil {
		return res, err
	}

	stream := sse.NewStream(ctx, resp.Body,
		sse.WithIdleTimeout(r.idleTimeout),
		sse.WithLogger(r.logger))
	defer stream.Close()

	var acc strings.Builder
	for {
		if ctx.Err() != nil {
			return res, contextError(ctx)
		}

		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		res.ChunkCount++
		acc.WriteString(ev.Text)
		res.FullContent = acc.String()

		if progress == nil {
			continue
		}
		select {
		case progress <- Progress{Chunk: res.ChunkCount, Delta: ev.Text, Content: res.FullContent, Reasoning: ev.Reasoning}:
		case <-ctx.Done():
			return res, contextError(ctx)
		}
	}

	r.logger.Debug("stream complete",
		"model", req.Model,
		"chunks", res.ChunkCount,
		"chars", len(res.FullContent),
		"duration", time.Since(start))
	return res, nil
}

// RunNonStream runs a one-shot attempt.
func (r *Runner) RunNonStream(ctx context.Context, req Request) (NonStreamResult, error) {
	start := time.Now()
	resp, err := r.transport.Complete(ctx, r.chatRequest(req))
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return NonStreamResult{Model: req.Model, Duration: elapsed}, contextError(ctx)
		}
		return NonStreamResult{Model: req.Model, Duration: elapsed}, err
	}

	out := NonStreamResult{
		Content:  resp.Content(),
		Model:    req.Model,
		Duration: elapsed,
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	if u := resp.Usage; u != nil {
		out.Usage = &model.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
			Latency:          elapsed,
		}
	}
	return out, nil
}

// contextError reports why ctx ended. Only cancellation becomes
// ErrCancelled; an expired deadline is a failure like any other.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	cause := context.Cause(ctx)
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	if cause != nil && cause != err {
		return fmt.Errorf("%w: %w", err, cause)
	}
	return err
}
