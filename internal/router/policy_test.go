// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

func priced(id string, prompt, completion float64) model.Candidate {
	return model.Candidate{ID: id, Pricing: &model.Pricing{Prompt: prompt, Completion: completion}}
}

func ids(cands []model.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

// ============================================================================
// BUDGET MODE TESTS
// ============================================================================

func TestParseBudgetMode(t *testing.T) {
	tests := []struct {
		input string
		want  BudgetMode
	}{
		{"free-first", FreeFirst},
		{"Cost_Effective", CostEffective},
		{" quality ", QualityFirst},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBudgetMode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			roundTrip, err := ParseBudgetMode(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, roundTrip)
		})
	}

	_, err := ParseBudgetMode("lavish")
	assert.Error(t, err)
}

// ============================================================================
// RANKING TESTS
// ============================================================================

func TestRank(t *testing.T) {
	unpriced := model.Candidate{ID: "unpriced", ContextLength: 1_000_000}
	free := priced("free", 0, 0)
	cheap := priced("cheap", 0.000001, 0.000002)
	pricey := priced("pricey", 0.00001, 0.00003)
	pricey.ContextLength = 200_000
	pricey.Multimodal = true
	catalog := []model.Candidate{unpriced, pricey, cheap, free}

	t.Run("free-first", func(t *testing.T) {
		assert.Equal(t, []string{"free", "cheap", "pricey", "unpriced"}, ids(Rank(catalog, FreeFirst)))
	})
	t.Run("cost-effective", func(t *testing.T) {
		assert.Equal(t, []string{"free", "cheap", "pricey", "unpriced"}, ids(Rank(catalog, CostEffective)))
	})
	t.Run("quality-first", func(t *testing.T) {
		// unpriced: tier 3 + paid = 33; pricey: 30 + 5 + 3 = 38.
		assert.Equal(t, []string{"pricey", "unpriced", "cheap", "free"}, ids(Rank(catalog, QualityFirst)))
	})
	t.Run("input is not reordered", func(t *testing.T) {
		Rank(catalog, CostEffective)
		assert.Equal(t, []string{"unpriced", "pricey", "cheap", "free"}, ids(catalog))
	})
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		name string
		cand model.Candidate
		want int
	}{
		{"small free", priced("a", 0, 0), 0},
		{"32k paid", model.Candidate{ContextLength: 32_000, Pricing: &model.Pricing{Prompt: 1}}, 13},
		{"128k multimodal free", model.Candidate{ContextLength: 128_000, Multimodal: true, Pricing: &model.Pricing{}}, 25},
		{"unknown price counts as paid", model.Candidate{ContextLength: 200_000}, 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QualityScore(tt.cand))
		})
	}
}

// ============================================================================
// NEXT MODEL TESTS
// ============================================================================

func TestNextModel_CostEffectiveAfterRateLimit(t *testing.T) {
	a := priced("model-a", 0.00001, 0.00002)
	b := priced("model-b", 0.000001, 0.000002)
	policy := Policy{MaxRetries: 2}
	tried := NewTriedSet(a.ID)

	next := policy.NextModel(&a, []model.Candidate{a, b}, 0, errclass.RateLimited, CostEffective, tried, false)
	require.NotNil(t, next)
	assert.Equal(t, "model-b", next.ID)

	tried.Add(b.ID)
	assert.Nil(t, policy.NextModel(&b, []model.Candidate{a, b}, 1, errclass.RateLimited, CostEffective, tried, false))
}

func TestNextModel_Guards(t *testing.T) {
	current := priced("current", 0, 0)
	text := priced("text", 0, 0)
	vision := priced("vision", 0.1, 0.1)
	vision.Multimodal = true
	catalog := []model.Candidate{current, text, vision}
	policy := Policy{MaxRetries: 2}

	tests := []struct {
		name       string
		attempt    int
		category   errclass.Category
		tried      TriedSet
		multimodal bool
		want       string
	}{
		{"retryable picks next", 0, errclass.ServerUnavailable, NewTriedSet(), false, "text"},
		{"model not found falls back", 0, errclass.ModelNotFound, NewTriedSet(), false, "text"},
		{"invalid model falls back", 1, errclass.InvalidModel, NewTriedSet(), false, "text"},
		{"not multimodal filters text-only", 0, errclass.ModelNotMultimodal, NewTriedSet(), true, "vision"},
		{"tried models are skipped", 0, errclass.Timeout, NewTriedSet("text"), false, "vision"},
		{"credits do not fall back", 0, errclass.InsufficientCredits, NewTriedSet(), false, ""},
		{"context too long does not fall back", 0, errclass.ContextTooLong, NewTriedSet(), false, ""},
		{"cancel does not fall back", 0, errclass.Cancelled, NewTriedSet(), false, ""},
		{"retry budget spent", 2, errclass.Network, NewTriedSet(), false, ""},
		{"everything tried", 0, errclass.Network, NewTriedSet("text", "vision"), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := policy.NextModel(&current, catalog, tt.attempt, tt.category, FreeFirst, tt.tried, tt.multimodal)
			if tt.want == "" {
				assert.Nil(t, next)
				return
			}
			require.NotNil(t, next)
			assert.Equal(t, tt.want, next.ID)
			assert.False(t, tt.tried.Has(next.ID))
		})
	}
}

func TestNextModel_NilCurrent(t *testing.T) {
	policy := Policy{MaxRetries: 1}
	next := policy.NextModel(nil, []model.Candidate{priced("only", 0, 0)}, 0, errclass.InvalidModel, FreeFirst, NewTriedSet(), false)
	require.NotNil(t, next)
	assert.Equal(t, "only", next.ID)
}

func TestNextModel_NeverReturnsTried(t *testing.T) {
	catalog := []model.Candidate{priced("a", 0, 0), priced("b", 1, 1), {ID: "c"}, priced("d", 0.5, 0.5)}
	policy := Policy{MaxRetries: 10}

	for _, mode := range []BudgetMode{FreeFirst, CostEffective, QualityFirst} {
		tried := NewTriedSet()
		for attempt := 0; ; attempt++ {
			next := policy.NextModel(nil, catalog, attempt, errclass.RateLimited, mode, tried, false)
			if next == nil {
				break
			}
			require.False(t, tried.Has(next.ID), "mode %s proposed %s twice", mode, next.ID)
			tried.Add(next.ID)
		}
		assert.Len(t, tried, len(catalog))
	}
}

// ============================================================================
// COST TESTS
// ============================================================================

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	// 9 words, 43 chars: (9 + 10) / 2
	assert.Equal(t, 9, EstimateTokens("the quick brown fox jumps over the lazy dog"))
}

func TestEstimateUsage(t *testing.T) {
	prompt := []*model.Message{model.NewUserMessage("the quick brown fox jumps over the lazy dog")}
	pricing := &model.Pricing{Prompt: 0.001, Completion: 0.002}

	usage := EstimateUsage(prompt, "hi", pricing, 0)
	require.NotNil(t, usage)
	assert.True(t, usage.Estimated)
	assert.Equal(t, 9, usage.PromptTokens)
	assert.Equal(t, 1, usage.CompletionTokens)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.InDelta(t, 0.011, usage.CostUSD, 1e-9)

	assert.Zero(t, EstimateUsage(prompt, "hi", nil, 0).CostUSD)
}
