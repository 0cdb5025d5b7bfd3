// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// sessionIDCounter ensures unique session IDs even when created rapidly
var sessionIDCounter uint64

const (
	maxTopTurns      = 10
	promptPreviewLen = 100
)

// UsageTracker aggregates per-turn usage for the running session.
type UsageTracker struct {
	mu      sync.RWMutex
	session *SessionUsage
	storage *UsageStorage // nil disables persistence
}

// SessionUsage is the usage of one program session.
type SessionUsage struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`

	Turns            int     `json:"turns"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"` // In dollars
	Estimated        bool    `json:"estimated"`  // any turn was estimated

	ByModel  map[string]*ModelUsage `json:"by_model"`
	TopTurns []TurnCost             `json:"top_turns"`
}

// ModelUsage is the usage attributed to one model.
type ModelUsage struct {
	Turns            int     `json:"turns"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// TurnCost is one recorded turn.
type TurnCost struct {
	Timestamp        time.Time     `json:"timestamp"`
	Prompt           string        `json:"prompt"` // First 100 chars
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Cost             float64       `json:"cost"`
	Duration         time.Duration `json:"duration"`
	Estimated        bool          `json:"estimated"`
}

// NewUsageTracker creates a tracker. storage may be nil.
func NewUsageTracker(storage *UsageStorage) *UsageTracker {
	return &UsageTracker{
		session: newSession(),
		storage: storage,
	}
}

func newSession() *SessionUsage {
	return &SessionUsage{
		ID:        generateSessionID(),
		StartTime: time.Now(),
		ByModel:   make(map[string]*ModelUsage),
		TopTurns:  make([]TurnCost, 0),
	}
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordTurn records a finalized turn. Nil usage is ignored.
func (t *UsageTracker) RecordTurn(modelID, prompt string, usage *model.Usage) {
	if usage == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.session
	s.Turns++
	s.PromptTokens += usage.PromptTokens
	s.CompletionTokens += usage.CompletionTokens
	s.TotalCost += usage.CostUSD
	s.Estimated = s.Estimated || usage.Estimated

	mu, ok := s.ByModel[modelID]
	if !ok {
		mu = &ModelUsage{}
		s.ByModel[modelID] = mu
	}
	mu.Turns++
	mu.PromptTokens += usage.PromptTokens
	mu.CompletionTokens += usage.CompletionTokens
	mu.Cost += usage.CostUSD

	s.TopTurns = append(s.TopTurns, TurnCost{
		Timestamp:        time.Now(),
		Prompt:           util.TruncateRunes(util.OneLine(prompt), promptPreviewLen),
		Model:            modelID,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             usage.CostUSD,
		Duration:         usage.Latency,
		Estimated:        usage.Estimated,
	})
	sort.SliceStable(s.TopTurns, func(i, j int) bool {
		return s.TopTurns[i].Cost > s.TopTurns[j].Cost
	})
	if len(s.TopTurns) > maxTopTurns {
		s.TopTurns = s.TopTurns[:maxTopTurns]
	}
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Current returns a copy of the running session.
func (t *UsageTracker) Current() *SessionUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session.clone()
}

// Summary returns a one-line description of the running session.
func (t *UsageTracker) Summary() string {
	s := t.Current()
	if s.Turns == 0 {
		return "No turns recorded yet"
	}

	approx := ""
	if s.Estimated {
		approx = "~"
	}
	models := make([]string, 0, len(s.ByModel))
	for id := range s.ByModel {
		models = append(models, id)
	}
	sort.Strings(models)

	return fmt.Sprintf("Session: %d turns | %s%d tokens in, %s%d out | $%.4f | models: %s",
		s.Turns,
		approx, s.PromptTokens,
		approx, s.CompletionTokens,
		s.TotalCost,
		strings.Join(models, ", "))
}

// History loads finished sessions within [from, to].
func (t *UsageTracker) History(from, to time.Time) []*SessionUsage {
	if t.storage == nil {
		return nil
	}
	ids, err := t.storage.List(from, to)
	if err != nil {
		return nil
	}
	sessions := make([]*SessionUsage, 0, len(ids))
	for _, id := range ids {
		s, err := t.storage.Load(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// EndSession saves the running session if it recorded anything and starts a
// new one.
func (t *UsageTracker) EndSession() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.session
	t.session = newSession()
	if t.storage == nil || s.Turns == 0 {
		return nil
	}
	s.EndTime = time.Now()
	return t.storage.Save(s)
}

func (s *SessionUsage) clone() *SessionUsage {
	dst := *s
	dst.ByModel = make(map[string]*ModelUsage, len(s.ByModel))
	for id, mu := range s.ByModel {
		cp := *mu
		dst.ByModel[id] = &cp
	}
	dst.TopTurns = append([]TurnCost(nil), s.TopTurns...)
	return &dst
}

// generateSessionID generates a unique session ID.
func generateSessionID() string {
	// Use date format plus atomic counter for guaranteed uniqueness
	now := time.Now()
	counter := atomic.AddUint64(&sessionIDCounter, 1)
	return now.Format("20060102-150405") + "-" + fmt.Sprintf("%d", counter)
}
