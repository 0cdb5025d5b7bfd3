// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/router"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGCHAT_HOME", dir)
	for _, key := range []string{
		"RIGCHAT_API_KEY", "OPENROUTER_API_KEY", "RIGCHAT_BASE_URL",
		"RIGCHAT_MODEL", "RIGCHAT_BUDGET", "RIGCHAT_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultModel, cfg.Turn.Model)
	assert.Equal(t, router.FreeFirst, cfg.BudgetMode())
	assert.Equal(t, router.DefaultMaxRetries, cfg.Turn.MaxRetries)
	assert.True(t, cfg.Turn.Streaming)
	assert.True(t, cfg.Typewriter.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Timeout())
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Turn, cfg.Turn)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[turn]
model = "anthropic/claude-3.5-sonnet"
fallback_models = ["openai/gpt-4o-mini"]
budget_mode = "quality-first"
streaming = false

[typewriter]
speed = 2.5
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{
  "turn": {
    "model": "anthropic/claude-3.5-sonnet",
    "fallback_models": ["openai/gpt-4o-mini"],
    "budget_mode": "quality-first",
    "streaming": false
  },
  "typewriter": {"speed": 2.5}
}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
turn:
  model: anthropic/claude-3.5-sonnet
  fallback_models:
    - openai/gpt-4o-mini
  budget_mode: quality-first
  streaming: false
typewriter:
  speed: 2.5
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			writeFile(t, filepath.Join(dir, tt.file), tt.content)

			cfg, err := Load()
			require.NoError(t, err)

			assert.Equal(t, "anthropic/claude-3.5-sonnet", cfg.Turn.Model)
			assert.Equal(t, []string{"openai/gpt-4o-mini"}, cfg.Turn.FallbackModels)
			assert.Equal(t, router.QualityFirst, cfg.BudgetMode())
			assert.False(t, cfg.Turn.Streaming)
			assert.Equal(t, 2.5, cfg.Typewriter.Speed)

			// Unset keys keep their defaults.
			assert.True(t, cfg.Typewriter.Enabled)
			assert.Equal(t, 20, cfg.Turn.ContextMessages)
			assert.Equal(t, DefaultBaseURL, cfg.Cloud.BaseURL)
		})
	}
}

func TestLoadPrefersTOML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[turn]\nmodel = \"from/toml\"\n")
	writeFile(t, filepath.Join(dir, "config.json"), `{"turn": {"model": "from/json"}}`)

	path, err := FindConfigFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from/toml", cfg.Turn.Model)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[turn]\nbudget_mode = \"lavish\"\n")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn.budget_mode")
}

func TestLoadRejectsMalformed(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[turn\nmodel = ")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestLoadFixesPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[turn]\n"), 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[cloud]\napi_key = \"sk-file\"\n[turn]\nmodel = \"from/file\"\n")

	t.Setenv("OPENROUTER_API_KEY", "sk-openrouter")
	t.Setenv("RIGCHAT_MODEL", "from/env")
	t.Setenv("RIGCHAT_BUDGET", "cost-effective")
	t.Setenv("RIGCHAT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-openrouter", cfg.Cloud.APIKey)
	assert.Equal(t, "from/env", cfg.Turn.Model)
	assert.Equal(t, router.CostEffective, cfg.BudgetMode())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())

	t.Setenv("RIGCHAT_API_KEY", "sk-rigchat")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-rigchat", cfg.Cloud.APIKey, "RIGCHAT_API_KEY wins over OPENROUTER_API_KEY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad url scheme", func(c *Config) { c.Cloud.BaseURL = "ftp://example.com" }, "cloud.base_url"},
		{"url without host", func(c *Config) { c.Cloud.BaseURL = "https://" }, "cloud.base_url"},
		{"negative timeout", func(c *Config) { c.Cloud.TimeoutSecs = -1 }, "cloud.timeout_secs"},
		{"negative rate", func(c *Config) { c.Cloud.RequestsPerMinute = -5 }, "cloud.requests_per_minute"},
		{"unknown budget", func(c *Config) { c.Turn.BudgetMode = "lavish" }, "turn.budget_mode"},
		{"too many retries", func(c *Config) { c.Turn.MaxRetries = 11 }, "turn.max_retries"},
		{"negative context", func(c *Config) { c.Turn.ContextMessages = -1 }, "turn.context_messages"},
		{"zero min chars", func(c *Config) { c.Typewriter.MinCharsPerTick = 0 }, "typewriter.min_chars_per_tick"},
		{"max below min", func(c *Config) { c.Typewriter.MaxCharsPerTick = 1 }, "typewriter.max_chars_per_tick"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"negative wrap", func(c *Config) { c.UI.WordWrap = -1 }, "ui.word_wrap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestSetDefaultsClampsSpeed(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1.0},
		{0.01, 0.1},
		{3, 3},
		{100, 8.0},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Typewriter.Speed = tt.in
		cfg.SetDefaults()
		assert.Equal(t, tt.want, cfg.Typewriter.Speed, "speed %v", tt.in)
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.Cloud.APIKey = "sk-or-secret"
	cfg.Turn.Model = "meta-llama/llama-3.1-8b-instruct:free"
	cfg.Turn.FallbackModels = []string{"a/one", "b/two"}
	cfg.Typewriter.Enabled = false
	require.NoError(t, Save(cfg))

	path, err := ConfigPathTOML()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# rigrun-chat configuration file"))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Turn, loaded.Turn)
	assert.Equal(t, cfg.Cloud.APIKey, loaded.Cloud.APIKey)
	assert.False(t, loaded.Typewriter.Enabled)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("turn.model", "x-ai/grok-2"))
	require.NoError(t, cfg.Set("turn.streaming", "false"))
	require.NoError(t, cfg.Set("turn.context_messages", "8"))
	require.NoError(t, cfg.Set("typewriter.speed", "1.5"))
	require.NoError(t, cfg.Set("turn.fallback_models", "a/one, b/two,"))
	require.NoError(t, cfg.Set("ui.word_wrap", 72))

	assert.Equal(t, "x-ai/grok-2", cfg.Turn.Model)
	assert.False(t, cfg.Turn.Streaming)
	assert.Equal(t, 8, cfg.Turn.ContextMessages)
	assert.Equal(t, 1.5, cfg.Typewriter.Speed)
	assert.Equal(t, []string{"a/one", "b/two"}, cfg.Turn.FallbackModels)
	assert.Equal(t, 72, cfg.UI.WordWrap)

	v, err := cfg.Get("cloud.base_url")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, v)

	v, err = cfg.Get("typewriter.max-chars-per-tick")
	require.NoError(t, err)
	assert.Equal(t, 48, v)

	_, err = cfg.Get("turn.nope")
	assert.ErrorContains(t, err, "unknown field: turn.nope")

	_, err = cfg.Get("turn.model.inner")
	assert.ErrorContains(t, err, "not a struct")

	assert.Error(t, cfg.Set("turn.context_messages", "many"))
}

func TestGetAllKeysResolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Turn.FallbackModels = []string{"a/one"}

	clone := cfg.Clone()
	clone.Turn.FallbackModels[0] = "changed"
	clone.Turn.Model = "changed"

	assert.Equal(t, "a/one", cfg.Turn.FallbackModels[0])
	assert.Equal(t, DefaultModel, cfg.Turn.Model)
}

func TestStringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Cloud.APIKey = "sk-or-v1-verysecret"

	out := cfg.String()
	assert.NotContains(t, out, "verysecret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "sk-or-v1-verysecret", cfg.Cloud.APIKey)
}

// =============================================================================
// LOGGING
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelDebug)

	logger.Info("turn start", "model", "a/one")
	logger.Warn("turn failed", "category", "rate-limited")

	assert.Contains(t, file.String(), `"msg":"turn start"`)
	assert.Contains(t, file.String(), `"msg":"turn failed"`)

	assert.NotContains(t, stderr.String(), "turn start")
	assert.Contains(t, stderr.String(), "turn failed")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "logs", "chat.log")

	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello", "k", "v")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcherDeliversOnlyValidConfigs(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[turn]\nmodel = \"first/model\"\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(c *Config) { got <- c }) }()

	writeFile(t, path, "[turn]\nmodel = \"second/model\"\n")
	select {
	case cfg := <-got:
		assert.Equal(t, "second/model", cfg.Turn.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after a valid edit")
	}

	writeFile(t, path, "[turn]\nbudget_mode = \"lavish\"\n")
	select {
	case cfg := <-got:
		t.Fatalf("invalid config delivered: %+v", cfg.Turn)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, path, "[turn]\nmodel = \"third/model\"\n")
	select {
	case cfg := <-got:
		assert.Equal(t, "third/model", cfg.Turn.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after recovering from an invalid edit")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[turn]\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	go w.Run(ctx, func(c *Config) { got <- c })

	writeFile(t, filepath.Join(dir, "other.toml"), "[turn]\n")
	select {
	case <-got:
		t.Fatal("reload for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLoadRawSkipsEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[turn]\nmodel = \"from/file\"\n")
	t.Setenv("RIGCHAT_MODEL", "from/env")
	t.Setenv("OPENROUTER_API_KEY", "sk-env")

	cfg, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Equal(t, "from/file", cfg.Turn.Model)
	assert.Empty(t, cfg.Cloud.APIKey)

	missing, err := LoadRaw(filepath.Join(dir, "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, missing.Turn.Model)
}
