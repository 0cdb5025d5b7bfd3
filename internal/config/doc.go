// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading, logging setup and hot
// reload for rigrun-chat.
//
// Supports TOML, JSON and YAML configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - CloudConfig: OpenRouter connection settings
//   - TurnConfig: Model selection, fallback and context settings
//   - TypewriterConfig: Display smoothing
//   - Watcher: Reloads the config file after it changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*, OPENROUTER_API_KEY)
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.json
//   - ~/.rigrun-chat/config.yaml
//   - Built-in defaults
//
// RIGCHAT_HOME moves the configuration directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	logger, cleanup := config.SetupLogger(cfg.Logging.File, cfg.LogLevel())
//	defer cleanup()
package config
