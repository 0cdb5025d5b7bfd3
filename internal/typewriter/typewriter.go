// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typewriter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// MinSpeed and MaxSpeed bound the speed multiplier.
	MinSpeed = 0.1
	MaxSpeed = 8.0

	baseInterval = 80 * time.Millisecond
	minInterval  = 20 * time.Millisecond
	maxInterval  = 800 * time.Millisecond

	// stepDivisor spreads the remaining distance over roughly this many ticks.
	stepDivisor = 6
)

// Config controls pacing.
type Config struct {
	Speed           float64 // multiplier, clamped to [MinSpeed, MaxSpeed]
	MinCharsPerTick int
	MaxCharsPerTick int
}

// DefaultConfig returns the default pacing.
func DefaultConfig() Config {
	return Config{Speed: 1.0, MinCharsPerTick: 2, MaxCharsPerTick: 48}
}

// normalized returns c with every field in range.
func (c Config) normalized() Config {
	c.Speed = clampFloat(c.Speed, MinSpeed, MaxSpeed)
	if c.MinCharsPerTick < 1 {
		c.MinCharsPerTick = 1
	}
	if c.MaxCharsPerTick < c.MinCharsPerTick {
		c.MaxCharsPerTick = c.MinCharsPerTick
	}
	return c
}

// Interval returns the tick interval for the configured speed.
func (c Config) Interval() time.Duration {
	speed := clampFloat(c.Speed, MinSpeed, MaxSpeed)
	d := time.Duration(float64(baseInterval) / speed)
	if d < minInterval {
		return minInterval
	}
	if d > maxInterval {
		return maxInterval
	}
	return d
}

// step returns how many grapheme clusters to advance with remaining left.
func (c Config) step(remaining int) int {
	n := remaining / stepDivisor
	if n < c.MinCharsPerTick {
		n = c.MinCharsPerTick
	}
	if n > c.MaxCharsPerTick {
		n = c.MaxCharsPerTick
	}
	return n
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo || v != v {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// RENDERER
// =============================================================================

// Frame is one display update.
type Frame struct {
	Text  string
	Final bool // exact full target; no frames follow
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithInterval overrides the tick interval derived from the speed.
func WithInterval(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Renderer smooths a growing target into display frames. All methods are
// safe for concurrent use.
type Renderer struct {
	cfg      Config
	interval time.Duration

	mu        sync.Mutex
	target    string
	displayed string
	ended     bool
	started   bool
	stopped   bool
	stop      context.CancelFunc

	frames   chan Frame
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Renderer. Call Start to begin ticking.
func New(cfg Config, opts ...Option) *Renderer {
	cfg = cfg.normalized()
	r := &Renderer{
		cfg:      cfg,
		interval: cfg.Interval(),
		frames:   make(chan Frame, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Frames returns the frame channel. It holds at most one frame; a slow
// reader sees the newest one. It is never closed; use Done.
func (r *Renderer) Frames() <-chan Frame {
	return r.frames
}

// Done is closed when the loop exits after the final frame or on Cancel.
func (r *Renderer) Done() <-chan struct{} {
	return r.done
}

// Interval returns the tick interval in use.
func (r *Renderer) Interval() time.Duration {
	return r.interval
}

// Start launches the tick loop. Only the first call starts a loop; later
// calls are no-ops.
func (r *Renderer) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	go r.loop(loopCtx)
}

// UpdateTarget replaces the target. A shorter target is a truncation and
// snaps the displayed text down to it immediately.
func (r *Renderer) UpdateTarget(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	prev := r.target
	r.target = s
	switch {
	case len(s) < len(prev):
		r.displayed = s
		r.publish(Frame{Text: s})
	case !strings.HasPrefix(s, r.displayed):
		// Replaced content: keep only what still matches.
		r.displayed = s[:commonPrefix(r.displayed, s)]
		r.publish(Frame{Text: r.displayed})
	}
}

// MarkStreamEnded allows the exact final emission.
func (r *Renderer) MarkStreamEnded() {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
}

// Cancel stops the loop. No frames are emitted afterwards.
func (r *Renderer) Cancel() {
	r.mu.Lock()
	r.stopped = true
	stop := r.stop
	started := r.started
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	if !started {
		r.closeDone()
	}
}

// Displayed returns the text currently shown.
func (r *Renderer) Displayed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayed
}

// Target returns the current target.
func (r *Renderer) Target() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

func (r *Renderer) loop(ctx context.Context) {
	defer r.closeDone()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			return
		case <-ticker.C:
			if r.tick() {
				return
			}
		}
	}
}

// tick advances displayed once. It reports true after the final frame.
func (r *Renderer) tick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return true
	}

	remaining := r.target[len(r.displayed):]
	clusters := uniseg.GraphemeClusterCount(remaining)
	step := r.cfg.step(clusters)

	if r.ended && clusters <= step {
		r.finish()
		return true
	}
	if clusters == 0 {
		return false
	}

	// Look further ahead when the safety rules hold the cut at the
	// displayed end, so a marker right at the boundary cannot stall.
	var cut int
	for n := step; ; n *= 2 {
		candidate := len(r.displayed) + advance(remaining, n)
		cut = SafeCut(r.target, candidate, r.ended)
		if cut > len(r.displayed) || candidate >= len(r.target) {
			break
		}
	}
	if r.ended && cut >= len(r.target) {
		r.finish()
		return true
	}
	if cut <= len(r.displayed) {
		return false
	}

	r.displayed = r.target[:cut]
	r.publish(Frame{Text: r.displayed})
	return false
}

// finish emits the exact target as the final frame. Caller holds mu.
func (r *Renderer) finish() {
	r.displayed = r.target
	r.stopped = true
	r.publish(Frame{Text: r.target, Final: true})
}

// publish replaces any unread frame with f. Caller holds mu.
func (r *Renderer) publish(f Frame) {
	for {
		select {
		case r.frames <- f:
			return
		default:
		}
		select {
		case <-r.frames:
		default:
		}
	}
}

func (r *Renderer) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// advance returns the byte length of the first n grapheme clusters of s.
// UNICODE: emoji sequences and combining marks are never split.
func advance(s string, n int) int {
	state := -1
	pos := 0
	for i := 0; i < n && pos < len(s); i++ {
		cluster, _, _, newState := uniseg.FirstGraphemeClusterInString(s[pos:], state)
		pos += len(cluster)
		state = newState
	}
	return pos
}

// commonPrefix returns the byte length of the longest common prefix that
// ends on a rune boundary.
func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	for n > 0 && n < len(b) && !isRuneStart(b[n]) {
		n--
	}
	return n
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
