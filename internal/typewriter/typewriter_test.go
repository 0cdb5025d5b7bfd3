// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typewriter

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PACING
// =============================================================================

func TestConfig_Interval(t *testing.T) {
	tests := []struct {
		speed float64
		want  time.Duration
	}{
		{1.0, 80 * time.Millisecond},
		{2.0, 40 * time.Millisecond},
		{8.0, 20 * time.Millisecond},
		{100, 20 * time.Millisecond},
		{0.1, 800 * time.Millisecond},
		{0.001, 800 * time.Millisecond},
		{0, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{Speed: tt.speed}.Interval(), "speed %v", tt.speed)
	}
}

func TestConfig_Step(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 48, cfg.step(10_000))
	assert.Equal(t, 10, cfg.step(60))
	assert.Equal(t, 2, cfg.step(3))

	bad := Config{MinCharsPerTick: 0, MaxCharsPerTick: -1}.normalized()
	assert.Equal(t, 1, bad.MinCharsPerTick)
	assert.Equal(t, 1, bad.MaxCharsPerTick)
	assert.Equal(t, MinSpeed, bad.Speed)
}

// =============================================================================
// RENDERER
// =============================================================================

// collect reads frames until the final frame or Done.
func collect(t *testing.T, r *Renderer, timeout time.Duration) []Frame {
	t.Helper()
	var frames []Frame
	deadline := time.After(timeout)
	for {
		select {
		case f := <-r.Frames():
			frames = append(frames, f)
			if f.Final {
				return frames
			}
		case <-r.Done():
			select {
			case f := <-r.Frames():
				frames = append(frames, f)
			default:
			}
			return frames
		case <-deadline:
			t.Fatalf("renderer did not finish; got %d frames", len(frames))
		}
	}
}

func TestRenderer_ExactFinalEmission(t *testing.T) {
	target := "Hello **wor"
	r := New(DefaultConfig(), WithInterval(2*time.Millisecond))
	r.UpdateTarget(target)
	r.MarkStreamEnded()
	r.Start(context.Background())

	frames := collect(t, r, 2*time.Second)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.True(t, last.Final)
	assert.Equal(t, target, last.Text, "final emission is not sanitized")
	assert.Equal(t, target, r.Displayed())
}

func TestRenderer_FramesArePrefixes(t *testing.T) {
	target := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	r := New(Config{Speed: 8, MinCharsPerTick: 2, MaxCharsPerTick: 16}, WithInterval(time.Millisecond))
	r.Start(context.Background())

	// Feed the target in bursts while frames are consumed.
	go func() {
		for i := 0; i <= len(target); i += 37 {
			r.UpdateTarget(target[:i])
			time.Sleep(time.Millisecond)
		}
		r.UpdateTarget(target)
		r.MarkStreamEnded()
	}()

	frames := collect(t, r, 5*time.Second)
	require.NotEmpty(t, frames)
	prev := 0
	for _, f := range frames {
		assert.True(t, strings.HasPrefix(target, f.Text))
		assert.GreaterOrEqual(t, len(f.Text), prev, "display never moves backwards")
		prev = len(f.Text)
	}
	assert.Equal(t, Frame{Text: target, Final: true}, frames[len(frames)-1])
}

func TestRenderer_HoldsUnterminatedMarker(t *testing.T) {
	r := New(Config{Speed: 1, MinCharsPerTick: 48, MaxCharsPerTick: 48}, WithInterval(time.Millisecond))
	r.UpdateTarget("Hello **wor")
	r.Start(context.Background())
	defer r.Cancel()

	require.Eventually(t, func() bool { return r.Displayed() == "Hello" }, time.Second, time.Millisecond)

	r.UpdateTarget("Hello **world** done")
	require.Eventually(t, func() bool { return r.Displayed() == "Hello **world** done" }, time.Second, time.Millisecond)
}

func TestRenderer_HoldsOpenCodeFence(t *testing.T) {
	r := New(Config{Speed: 1, MinCharsPerTick: 48, MaxCharsPerTick: 48}, WithInterval(time.Millisecond))
	r.UpdateTarget("Try:\n```go\nfmt.Println(1)\n")
	r.Start(context.Background())
	defer r.Cancel()

	require.Eventually(t, func() bool { return r.Displayed() == "Try:\n" }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, "Try:\n", r.Displayed())

	full := "Try:\n```go\nfmt.Println(1)\n```\nDone"
	r.UpdateTarget(full)
	require.Eventually(t, func() bool { return r.Displayed() == full }, time.Second, time.Millisecond)
}

func TestRenderer_ShrinkingTargetSnaps(t *testing.T) {
	r := New(DefaultConfig(), WithInterval(time.Millisecond))
	r.UpdateTarget("partial answer that")
	r.Start(context.Background())
	defer r.Cancel()

	require.Eventually(t, func() bool { return r.Displayed() == "partial answer that" }, time.Second, time.Millisecond)

	r.UpdateTarget("partial")
	assert.Equal(t, "partial", r.Displayed())
	assert.Equal(t, "partial", r.Target())
}

func TestRenderer_ShrinkingTargetSnapsAheadOfDisplayed(t *testing.T) {
	r := New(DefaultConfig(), WithInterval(time.Hour))
	r.UpdateTarget("Hello world, this is long")
	require.Empty(t, r.Displayed())

	// The new target is still longer than what is shown.
	r.UpdateTarget("Hello")
	assert.Equal(t, "Hello", r.Displayed())
	assert.Equal(t, "Hello", r.Target())

	select {
	case f := <-r.Frames():
		assert.Equal(t, "Hello", f.Text)
		assert.False(t, f.Final)
	default:
		t.Fatal("no frame for the truncated target")
	}

	// Growth after a truncation streams normally again.
	r.UpdateTarget("Hello again")
	assert.Equal(t, "Hello", r.Displayed())
}

func TestRenderer_CancelStopsLoop(t *testing.T) {
	r := New(Config{Speed: 1, MinCharsPerTick: 1, MaxCharsPerTick: 1}, WithInterval(time.Millisecond))
	r.UpdateTarget(strings.Repeat("x", 10_000))
	r.Start(context.Background())

	time.Sleep(10 * time.Millisecond)
	r.Cancel()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	// Drop whatever was buffered before the cancel.
	select {
	case <-r.Frames():
	default:
	}

	shown := r.Displayed()
	r.UpdateTarget(strings.Repeat("y", 5))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, shown, r.Displayed())
	select {
	case f := <-r.Frames():
		t.Fatalf("frame after cancel: %q", f.Text)
	default:
	}
}

func TestRenderer_SingleLoop(t *testing.T) {
	r := New(DefaultConfig(), WithInterval(time.Millisecond))
	r.UpdateTarget("abc")
	r.MarkStreamEnded()

	ctx := context.Background()
	r.Start(ctx)
	r.Start(ctx)
	r.Start(ctx)

	frames := collect(t, r, time.Second)
	assert.Equal(t, Frame{Text: "abc", Final: true}, frames[len(frames)-1])

	// Starting after the loop finished does nothing.
	r.Start(ctx)
	select {
	case f := <-r.Frames():
		t.Fatalf("unexpected frame %q", f.Text)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestRenderer_CancelBeforeStart(t *testing.T) {
	r := New(DefaultConfig())
	r.Cancel()
	r.Start(context.Background())
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}

func TestRenderer_GraphemeSafe(t *testing.T) {
	thumb := "\U0001F44D\U0001F3FD" // thumbs up, medium skin tone
	target := strings.Repeat(thumb, 30)
	r := New(Config{Speed: 8, MinCharsPerTick: 1, MaxCharsPerTick: 1}, WithInterval(time.Millisecond))
	r.UpdateTarget(target)
	r.Start(context.Background())
	defer r.Cancel()

	for {
		select {
		case f := <-r.Frames():
			assert.True(t, utf8.ValidString(f.Text))
			assert.Zero(t, len(f.Text)%len(thumb), "frame split a cluster: %d bytes", len(f.Text))
			if f.Text == target {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("display never caught up")
		}
	}
}
