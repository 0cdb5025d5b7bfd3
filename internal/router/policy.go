// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// ============================================================================
// BUDGET MODE
// ============================================================================

// BudgetMode selects how fallback candidates are ranked.
type BudgetMode int

const (
	// FreeFirst ranks free models ahead of paid ones, cheapest first.
	FreeFirst BudgetMode = iota
	// CostEffective ranks purely by combined price, unknown prices last.
	CostEffective
	// QualityFirst ranks by quality score, cheapest first on ties.
	QualityFirst
)

// String returns the config spelling of the mode.
func (m BudgetMode) String() string {
	switch m {
	case FreeFirst:
		return "free-first"
	case CostEffective:
		return "cost-effective"
	case QualityFirst:
		return "quality-first"
	default:
		return fmt.Sprintf("BudgetMode(%d)", m)
	}
}

// ParseBudgetMode parses a mode name. Underscores and case are ignored.
func ParseBudgetMode(s string) (BudgetMode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "free-first", "free":
		return FreeFirst, nil
	case "cost-effective", "cost", "cheap":
		return CostEffective, nil
	case "quality-first", "quality":
		return QualityFirst, nil
	}
	return FreeFirst, fmt.Errorf("unknown budget mode %q (want free-first, cost-effective or quality-first)", s)
}

// ============================================================================
// TRIED SET
// ============================================================================

// TriedSet holds the model IDs already attempted in one turn.
type TriedSet map[string]struct{}

// NewTriedSet returns a set containing ids.
func NewTriedSet(ids ...string) TriedSet {
	t := make(TriedSet, len(ids))
	for _, id := range ids {
		t.Add(id)
	}
	return t
}

// Add marks id as tried.
func (t TriedSet) Add(id string) {
	t[id] = struct{}{}
}

// Has reports whether id was tried.
func (t TriedSet) Has(id string) bool {
	_, ok := t[id]
	return ok
}

// ============================================================================
// POLICY
// ============================================================================

// DefaultMaxRetries is the fallback attempt limit per turn.
const DefaultMaxRetries = 2

// UnknownPrice is the per-token price assumed for unpriced models so they
// rank last.
const UnknownPrice = 1e9

// Policy proposes fallback models after a failed attempt.
type Policy struct {
	MaxRetries int
}

// Eligible reports whether a failure of category cat may fall back to
// another model.
func (p Policy) Eligible(cat errclass.Category) bool {
	if cat.Retryable() {
		return true
	}
	switch cat {
	case errclass.ModelNotFound, errclass.InvalidModel, errclass.ModelNotMultimodal:
		return true
	}
	return false
}

// NextModel returns the next candidate to try, or nil when the category is
// not eligible, the retry budget is spent, or every ranked candidate has
// been tried. attempt counts fallbacks already made in this turn.
func (p Policy) NextModel(
	current *model.Candidate,
	available []model.Candidate,
	attempt int,
	cat errclass.Category,
	mode BudgetMode,
	tried TriedSet,
	requiresMultimodal bool,
) *model.Candidate {
	if !p.Eligible(cat) || attempt >= p.MaxRetries {
		return nil
	}

	pool := make([]model.Candidate, 0, len(available))
	for _, c := range available {
		if current != nil && c.ID == current.ID {
			continue
		}
		if requiresMultimodal && !c.Multimodal {
			continue
		}
		pool = append(pool, c)
	}

	for _, c := range Rank(pool, mode) {
		if tried.Has(c.ID) {
			continue
		}
		next := c
		return &next
	}
	return nil
}

// Rank returns a copy of candidates ordered by mode. Equal candidates keep
// their catalog order.
func Rank(candidates []model.Candidate, mode BudgetMode) []model.Candidate {
	ranked := make([]model.Candidate, len(candidates))
	copy(ranked, candidates)

	var less func(a, b model.Candidate) bool
	switch mode {
	case CostEffective:
		less = func(a, b model.Candidate) bool {
			return EffectivePrice(a) < EffectivePrice(b)
		}
	case QualityFirst:
		less = func(a, b model.Candidate) bool {
			qa, qb := QualityScore(a), QualityScore(b)
			if qa != qb {
				return qa > qb
			}
			return EffectivePrice(a) < EffectivePrice(b)
		}
	default:
		less = func(a, b model.Candidate) bool {
			fa, fb := a.IsFree(), b.IsFree()
			if fa != fb {
				return fa
			}
			return EffectivePrice(a) < EffectivePrice(b)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	return ranked
}

// EffectivePrice is the combined per-token price, or UnknownPrice.
func EffectivePrice(c model.Candidate) float64 {
	if price, ok := c.CombinedPrice(); ok {
		return price
	}
	return UnknownPrice
}

// QualityScore weighs context-length tier, multimodal support and paid
// status. Higher is better.
func QualityScore(c model.Candidate) int {
	tier := 0
	switch {
	case c.ContextLength >= 200_000:
		tier = 3
	case c.ContextLength >= 100_000:
		tier = 2
	case c.ContextLength >= 32_000:
		tier = 1
	}

	score := tier * 10
	if c.Multimodal {
		score += 5
	}
	if !c.IsFree() {
		score += 3
	}
	return score
}
