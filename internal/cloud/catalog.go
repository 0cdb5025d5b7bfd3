// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultCatalogTTL is how long a fetched model list is served from memory.
const DefaultCatalogTTL = 10 * time.Minute

// ModelLister fetches the full model list.
type ModelLister interface {
	ListModels(ctx context.Context) ([]model.Candidate, error)
}

// CachedCatalog serves the model list from memory and refreshes it after the
// TTL. When a refresh fails it keeps serving the stale list, or the seed list
// if nothing was ever fetched.
type CachedCatalog struct {
	lister ModelLister
	ttl    time.Duration
	seed   []model.Candidate

	mu        sync.Mutex
	models    []model.Candidate
	fetchedAt time.Time
}

// NewCachedCatalog wraps lister. seed is served when the first fetch fails.
func NewCachedCatalog(lister ModelLister, ttl time.Duration, seed []model.Candidate) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CachedCatalog{lister: lister, ttl: ttl, seed: seed}
}

// Models returns the catalog, fetching it when the cache is stale.
func (c *CachedCatalog) Models(ctx context.Context) ([]model.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.models != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.models, nil
	}

	models, err := c.lister.ListModels(ctx)
	if err != nil {
		if c.models != nil {
			return c.models, nil
		}
		if len(c.seed) > 0 {
			return c.seed, nil
		}
		return nil, err
	}
	c.models = models
	c.fetchedAt = time.Now()
	return models, nil
}

// Invalidate forces the next Models call to refetch.
func (c *CachedCatalog) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
