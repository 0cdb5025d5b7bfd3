// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router picks fallback models and estimates turn cost.
//
// # Key Types
//
//   - Policy: decides whether a failed turn may retry and on which model
//   - BudgetMode: ranking strategy (free-first, cost-effective, quality-first)
//   - TriedSet: models already attempted in the current turn
//
// # Usage
//
// After a classified failure, ask the policy for the next candidate:
//
//	policy := router.Policy{MaxRetries: 2}
//	next := policy.NextModel(current, catalog, attempt, cerr.Category,
//	    router.CostEffective, tried, hasMedia)
//	if next == nil {
//	    // surface the error
//	}
//
// # Cost Estimation
//
// EstimateTokens approximates token counts for streamed turns, where the
// transport reports no usage, and EstimateCostUSD prices them with the
// candidate's per-token pricing.
package router
