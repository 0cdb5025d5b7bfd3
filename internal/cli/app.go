// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/runner"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/typewriter"
)

// =============================================================================
// WIRING
// =============================================================================

// app holds the collaborators a command needs, built from one config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *cloud.OpenRouterClient
	catalog *cloud.CachedCatalog
	store   storage.Store // nil when storage could not be opened
	usage   *telemetry.UsageTracker
}

// newApp wires the client, catalog, store and usage tracker. Storage and
// usage history are best-effort: failures are logged and chatting still
// works without them.
func newApp(cfg *config.Config, logger *slog.Logger) *app {
	if logger == nil {
		logger = slog.Default()
	}

	client := cloud.NewOpenRouterClient(cfg.Cloud.APIKey).
		WithBaseURL(cfg.Cloud.BaseURL).
		WithTimeout(cfg.Timeout()).
		WithRateLimit(cfg.Cloud.RequestsPerMinute).
		WithLogger(logger)
	if cfg.Cloud.SiteURL != "" {
		client.WithSiteURL(cfg.Cloud.SiteURL)
	}
	if cfg.Cloud.SiteName != "" {
		client.WithSiteName(cfg.Cloud.SiteName)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		catalog: cloud.NewCachedCatalog(client, cloud.DefaultCatalogTTL, nil),
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Warn("conversation storage unavailable, continuing without history", "backend", cfg.Storage.Backend, "error", err)
	} else {
		a.store = store
	}

	var usageStorage *telemetry.UsageStorage
	if dir, err := config.ConfigDir(); err == nil {
		usageStorage, err = telemetry.NewUsageStorage(filepath.Join(dir, "usage"))
		if err != nil {
			logger.Warn("usage history unavailable", "error", err)
		}
	}
	a.usage = telemetry.NewUsageTracker(usageStorage)

	logger.Debug("app wired",
		"model", cfg.Turn.Model,
		"budget", cfg.Turn.BudgetMode,
		"streaming", cfg.Turn.Streaming,
		"key", client.KeyFingerprint())
	return a
}

// openStore opens the configured backend. An empty path resolves under the
// config directory.
func openStore(cfg *config.Config) (storage.Store, error) {
	path := cfg.Storage.Path
	if path == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		switch cfg.Storage.Backend {
		case storage.BackendJSON:
			path = filepath.Join(dir, "conversations")
		default:
			path = filepath.Join(dir, "chat.db")
		}
	}
	store, err := storage.Open(cfg.Storage.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	return store, nil
}

// newOrchestrator builds a turn orchestrator from the current config.
func (a *app) newOrchestrator(smoothing bool) *session.Orchestrator {
	r := runner.New(a.client,
		runner.WithLogger(a.logger),
		runner.WithIdleTimeout(a.cfg.IdleTimeout()))

	opts := session.Options{
		Runner:     r,
		Catalog:    a.catalog,
		Policy:     router.Policy{MaxRetries: a.cfg.Turn.MaxRetries},
		Turn:       turnConfig(a.cfg),
		Smoothing:  smoothing,
		Typewriter: typewriterConfig(a.cfg),
		Usage:      a.usage,
		Logger:     a.logger,
	}
	if a.store != nil {
		opts.Store = a.store
	}
	return session.New(opts)
}

// close saves the usage session and closes the store.
func (a *app) close() {
	if err := a.usage.EndSession(); err != nil {
		a.logger.Warn("failed to save usage session", "error", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close conversation storage", "error", err)
		}
	}
}

// applyConfig pushes reloadable settings into a running orchestrator.
// Model selection is left alone so a /model choice survives a reload.
func applyConfig(orch *session.Orchestrator, cfg *config.Config) {
	orch.SetBudgetMode(cfg.BudgetMode())
	orch.SetTypewriter(cfg.Typewriter.Enabled, typewriterConfig(cfg))
}

// =============================================================================
// CONFIG CONVERSION
// =============================================================================

func turnConfig(cfg *config.Config) session.TurnConfig {
	return session.TurnConfig{
		Model:           cfg.Turn.Model,
		FallbackModels:  append([]string(nil), cfg.Turn.FallbackModels...),
		BudgetMode:      cfg.BudgetMode(),
		Streaming:       cfg.Turn.Streaming,
		ContextMessages: cfg.Turn.ContextMessages,
		SystemPrompt:    cfg.Turn.SystemPrompt,
	}
}

func typewriterConfig(cfg *config.Config) typewriter.Config {
	return typewriter.Config{
		Speed:           cfg.Typewriter.Speed,
		MinCharsPerTick: cfg.Typewriter.MinCharsPerTick,
		MaxCharsPerTick: cfg.Typewriter.MaxCharsPerTick,
	}
}
