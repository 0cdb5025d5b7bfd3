// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE STATE TESTS
// =============================================================================

func TestMessage_StreamingLifecycle(t *testing.T) {
	msg := NewAssistantMessage()
	require.Equal(t, StatePending, msg.State)
	assert.False(t, msg.IsStreaming())
	assert.False(t, msg.WasStreamed())

	require.True(t, msg.BeginStreaming())
	assert.True(t, msg.IsStreaming())
	assert.False(t, msg.BeginStreaming(), "second BeginStreaming must be rejected")

	msg.SetStreamContent("Hel")
	msg.SetStreamContent("Hello")
	assert.Equal(t, "Hello", msg.Content)

	usage := &Usage{CompletionTokens: 2, Latency: time.Second}
	require.True(t, msg.Finalize("Hello", usage))
	assert.False(t, msg.IsStreaming())
	assert.True(t, msg.IsFinal())
	assert.True(t, msg.WasStreamed())
	assert.Same(t, usage, msg.Usage)

	assert.False(t, msg.Finalize("changed", nil), "finalize happens exactly once")
	assert.Equal(t, "Hello", msg.Content)

	msg.SetStreamContent("ignored")
	assert.Equal(t, "Hello", msg.Content)
}

func TestMessage_FinalizeWithoutStreaming(t *testing.T) {
	msg := NewAssistantMessage()
	require.True(t, msg.Finalize("whole payload", nil))
	assert.False(t, msg.WasStreamed())
}

func TestMessage_Freeze(t *testing.T) {
	msg := NewAssistantMessage()
	msg.BeginStreaming()
	msg.SetStreamContent("The answer is 4, because")

	require.True(t, msg.Freeze("The answer is 4"))
	assert.Equal(t, "The answer is 4", msg.Content)
	assert.False(t, msg.IsStreaming())
	assert.True(t, msg.WasStreamed())
	assert.False(t, msg.Freeze("again"))
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	msg := NewAssistantMessage()
	msg.Usage = &Usage{TotalTokens: 10}
	msg.Routing = &Routing{FromModel: "a", ToModel: "b"}

	cp := msg.Clone()
	cp.Usage.TotalTokens = 99
	cp.Routing.ToModel = "c"

	assert.Equal(t, 10, msg.Usage.TotalTokens)
	assert.Equal(t, "b", msg.Routing.ToModel)
}

func TestState_RoundTrip(t *testing.T) {
	for _, s := range []State{StatePending, StateStreaming, StateFinalized} {
		assert.Equal(t, s, ParseState(s.String()))
	}
	assert.Equal(t, StateFinalized, ParseState("bogus"))
}

func TestMessage_FormatStats(t *testing.T) {
	msg := NewAssistantMessage()
	assert.Empty(t, msg.FormatStats())

	msg.Finalize("x", &Usage{CompletionTokens: 128, Latency: 2500 * time.Millisecond, CostUSD: 0.0012, Estimated: true})
	assert.Equal(t, "2.5s | ~128 tokens | $0.0012", msg.FormatStats())
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_TitleFromFirstUserMessage(t *testing.T) {
	conv := NewConversation()
	assert.True(t, strings.HasPrefix(conv.ID, "conv_"))

	conv.AddUserMessage("What is\nthe answer?")
	conv.AddUserMessage("second")
	assert.Equal(t, "What is the answer?", conv.Title)
}

func TestConversation_ContextWindow(t *testing.T) {
	conv := NewConversation()
	conv.AddUserMessage("q1")
	a1 := conv.AddAssistantMessage()
	a1.Finalize("a1", nil)
	conv.AddMessage(NewErrorMessage("Rate limited"))
	conv.AddUserMessage("q2")
	conv.AddAssistantMessage() // placeholder

	window := conv.ContextWindow(0)
	var contents []string
	for _, m := range window {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"q1", "a1", "q2"}, contents)

	window = conv.ContextWindow(2)
	require.Len(t, window, 2)
	assert.Equal(t, "a1", window[0].Content)
	assert.Equal(t, "q2", window[1].Content)
}

func TestConversation_FindRemoveLast(t *testing.T) {
	conv := NewConversation()
	u := conv.AddUserMessage("hi")
	a := conv.AddAssistantMessage()

	assert.Same(t, a, conv.Last())
	assert.Same(t, u, conv.Find(u.ID))
	assert.True(t, conv.Remove(a.ID))
	assert.False(t, conv.Remove(a.ID))
	assert.Same(t, u, conv.Last())
}

func TestConversation_Prune(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < MaxMessages+5; i++ {
		conv.AddUserMessage("m")
	}
	assert.Len(t, conv.Messages, MaxMessages)
}

// =============================================================================
// CANDIDATE TESTS
// =============================================================================

func TestCandidate_Pricing(t *testing.T) {
	free := Candidate{ID: "free", Pricing: &Pricing{}}
	paid := Candidate{ID: "paid", Pricing: &Pricing{Prompt: 0.000001, Completion: 0.000002}}
	unknown := Candidate{ID: "unknown"}

	assert.True(t, free.IsFree())
	assert.False(t, paid.IsFree())
	assert.False(t, unknown.IsFree())

	price, ok := paid.CombinedPrice()
	require.True(t, ok)
	assert.InDelta(t, 0.000003, price, 1e-12)

	_, ok = unknown.CombinedPrice()
	assert.False(t, ok)

	assert.Equal(t, "unknown", unknown.DisplayName())
	require.NotNil(t, FindCandidate([]Candidate{free, paid}, "paid"))
	assert.Nil(t, FindCandidate([]Candidate{free}, "paid"))
}
