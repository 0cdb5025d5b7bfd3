// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// Pricing is the per-token price of a model in US dollars.
type Pricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// Candidate describes a backend model the engine may dispatch to. Candidates
// come from the model catalog and are read-only to the engine.
type Candidate struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Multimodal    bool     `json:"multimodal"`
	ContextLength int      `json:"context_length"`
	Pricing       *Pricing `json:"pricing,omitempty"` // nil when the cost is unknown
}

// DisplayName returns the name, falling back to the ID.
func (c Candidate) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// CombinedPrice returns prompt+completion price per token. ok is false when
// pricing is unknown.
func (c Candidate) CombinedPrice() (price float64, ok bool) {
	if c.Pricing == nil {
		return 0, false
	}
	return c.Pricing.Prompt + c.Pricing.Completion, true
}

// IsFree reports whether the model is known to cost nothing.
func (c Candidate) IsFree() bool {
	price, ok := c.CombinedPrice()
	return ok && price == 0
}

// FindCandidate returns the candidate with the given ID, or nil.
func FindCandidate(candidates []Candidate, id string) *Candidate {
	for i := range candidates {
		if candidates[i].ID == id {
			c := candidates[i]
			return &c
		}
	}
	return nil
}
