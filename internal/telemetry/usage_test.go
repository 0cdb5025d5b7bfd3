// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

func TestUsageTracker_RecordTurn(t *testing.T) {
	tracker := NewUsageTracker(nil)

	tracker.RecordTurn("a/model", "first prompt", &model.Usage{PromptTokens: 10, CompletionTokens: 20, CostUSD: 0.01, Estimated: true})
	tracker.RecordTurn("b/model", "second prompt", &model.Usage{PromptTokens: 5, CompletionTokens: 5, CostUSD: 0.05})
	tracker.RecordTurn("a/model", "third", &model.Usage{PromptTokens: 1, CompletionTokens: 1})
	tracker.RecordTurn("a/model", "ignored", nil)

	s := tracker.Current()
	if s.Turns != 3 {
		t.Fatalf("Turns = %d, want 3", s.Turns)
	}
	if s.PromptTokens != 16 || s.CompletionTokens != 26 {
		t.Errorf("tokens = %d/%d, want 16/26", s.PromptTokens, s.CompletionTokens)
	}
	if !s.Estimated {
		t.Error("session should be marked estimated")
	}
	if got := s.ByModel["a/model"].Turns; got != 2 {
		t.Errorf("a/model turns = %d, want 2", got)
	}
	if s.TopTurns[0].Model != "b/model" {
		t.Errorf("most expensive turn = %s, want b/model", s.TopTurns[0].Model)
	}

	// Copies are independent.
	s.ByModel["a/model"].Turns = 99
	if tracker.Current().ByModel["a/model"].Turns != 2 {
		t.Error("Current must return a copy")
	}
}

func TestUsageTracker_TopTurnsCapped(t *testing.T) {
	tracker := NewUsageTracker(nil)
	for i := 0; i < 25; i++ {
		tracker.RecordTurn("m", strings.Repeat("x", 300), &model.Usage{CostUSD: float64(i)})
	}
	s := tracker.Current()
	if len(s.TopTurns) != maxTopTurns {
		t.Fatalf("TopTurns = %d, want %d", len(s.TopTurns), maxTopTurns)
	}
	if s.TopTurns[0].Cost != 24 {
		t.Errorf("top cost = %v, want 24", s.TopTurns[0].Cost)
	}
	if n := len([]rune(s.TopTurns[0].Prompt)); n > promptPreviewLen {
		t.Errorf("prompt preview has %d runes", n)
	}
}

func TestUsageTracker_Summary(t *testing.T) {
	tracker := NewUsageTracker(nil)
	if got := tracker.Summary(); got != "No turns recorded yet" {
		t.Errorf("empty summary = %q", got)
	}

	tracker.RecordTurn("m", "p", &model.Usage{PromptTokens: 3, CompletionTokens: 4, CostUSD: 0.0012, Estimated: true})
	got := tracker.Summary()
	for _, want := range []string{"1 turns", "~3 tokens in", "~4 out", "$0.0012", "models: m"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary %q missing %q", got, want)
		}
	}
}

func TestUsageTracker_EndSessionPersists(t *testing.T) {
	storage, err := NewUsageStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewUsageStorage failed: %v", err)
	}
	tracker := NewUsageTracker(storage)
	firstID := tracker.Current().ID

	tracker.RecordTurn("m", "p", &model.Usage{PromptTokens: 1, CompletionTokens: 2, CostUSD: 0.5})
	if err := tracker.EndSession(); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if tracker.Current().ID == firstID {
		t.Error("EndSession should start a new session")
	}

	history := tracker.History(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if len(history) != 1 {
		t.Fatalf("history has %d sessions, want 1", len(history))
	}
	if history[0].ID != firstID || history[0].TotalCost != 0.5 {
		t.Errorf("loaded session = %+v", history[0])
	}
	if history[0].EndTime.IsZero() {
		t.Error("EndTime should be set")
	}

	// Empty sessions are not written.
	if err := tracker.EndSession(); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	ids, err := storage.List(time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("stored %d sessions, want 1", len(ids))
	}
}
