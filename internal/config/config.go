// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	Cloud      CloudConfig      `toml:"cloud" json:"cloud" yaml:"cloud"`
	Turn       TurnConfig       `toml:"turn" json:"turn" yaml:"turn"`
	Typewriter TypewriterConfig `toml:"typewriter" json:"typewriter" yaml:"typewriter"`
	Storage    StorageConfig    `toml:"storage" json:"storage" yaml:"storage"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	UI         UIConfig         `toml:"ui" json:"ui" yaml:"ui"`
}

// CloudConfig contains OpenRouter connection settings.
type CloudConfig struct {
	APIKey            string `toml:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL           string `toml:"base_url" json:"base_url" yaml:"base_url"`
	TimeoutSecs       int    `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
	RequestsPerMinute int    `toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"` // 0 disables the client-side limiter
	SiteURL           string `toml:"site_url" json:"site_url" yaml:"site_url"`
	SiteName          string `toml:"site_name" json:"site_name" yaml:"site_name"`
}

// TurnConfig controls model selection and how each turn is dispatched.
type TurnConfig struct {
	Model           string   `toml:"model" json:"model" yaml:"model"`
	FallbackModels  []string `toml:"fallback_models" json:"fallback_models" yaml:"fallback_models"`
	BudgetMode      string   `toml:"budget_mode" json:"budget_mode" yaml:"budget_mode"` // free-first, cost-effective, quality-first
	MaxRetries      int      `toml:"max_retries" json:"max_retries" yaml:"max_retries"`
	Streaming       bool     `toml:"streaming" json:"streaming" yaml:"streaming"`
	ContextMessages int      `toml:"context_messages" json:"context_messages" yaml:"context_messages"`
	SystemPrompt    string   `toml:"system_prompt" json:"system_prompt" yaml:"system_prompt"`
	IdleTimeoutSecs int      `toml:"idle_timeout_secs" json:"idle_timeout_secs" yaml:"idle_timeout_secs"`
}

// TypewriterConfig controls display smoothing of streamed text.
type TypewriterConfig struct {
	Enabled         bool    `toml:"enabled" json:"enabled" yaml:"enabled"`
	Speed           float64 `toml:"speed" json:"speed" yaml:"speed"`
	MinCharsPerTick int     `toml:"min_chars_per_tick" json:"min_chars_per_tick" yaml:"min_chars_per_tick"`
	MaxCharsPerTick int     `toml:"max_chars_per_tick" json:"max_chars_per_tick" yaml:"max_chars_per_tick"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend" yaml:"backend"` // sqlite or json
	Path    string `toml:"path" json:"path" yaml:"path"`          // empty uses the default location
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level" json:"level" yaml:"level"` // debug, info, warn, error
	File  string `toml:"file" json:"file" yaml:"file"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	Markdown bool `toml:"markdown" json:"markdown" yaml:"markdown"` // render finished replies with glamour
	WordWrap int  `toml:"word_wrap" json:"word_wrap" yaml:"word_wrap"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultModel is the model selected when none is configured.
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	currentVersion = "1"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Version: currentVersion,
		Cloud: CloudConfig{
			BaseURL:           DefaultBaseURL,
			TimeoutSecs:       120,
			RequestsPerMinute: 60,
			SiteName:          "rigrun-chat",
		},
		Turn: TurnConfig{
			Model:           DefaultModel,
			BudgetMode:      router.FreeFirst.String(),
			MaxRetries:      router.DefaultMaxRetries,
			Streaming:       true,
			ContextMessages: 20,
			IdleTimeoutSecs: 120,
		},
		Typewriter: TypewriterConfig{
			Enabled:         true,
			Speed:           1.0,
			MinCharsPerTick: 2,
			MaxCharsPerTick: 48,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		UI: UIConfig{
			Markdown: true,
			WordWrap: 100,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory. RIGCHAT_HOME overrides
// ~/.rigrun-chat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultLogFile returns the default log file path.
func DefaultLogFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rigrun-chat.log"), nil
}

// FindConfigFile returns the first existing config file in precedence
// order, or "" when there is none.
func FindConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	for _, name := range []string{"config.toml", "config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the first config file found, or the defaults when there is
// none. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := FindConfigFile()
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.finish()
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file with full
// validation. The format follows the extension; anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRaw loads a file for editing: defaults fill unset keys, but
// environment overrides are not applied and nothing is validated. A
// missing file yields the defaults.
func LoadRaw(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

// decodeFile decodes path over the defaults.
func decodeFile(path string) (*Config, error) {
	cfg := Default()

	// SECURITY: Check and fix file permissions if needed
	if err := ensureSecurePermissions(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not ensure secure permissions on config file", "path", path, "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}

// finish applies environment overrides and defaults, then validates.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun-chat configuration file\n")
	buf.WriteString("# Generated by rigrun-chat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Cloud
	if c.Cloud.BaseURL != "" {
		u, err := url.Parse(c.Cloud.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("cloud.base_url", "invalid URL %q, must be http(s)://host[/path]", c.Cloud.BaseURL)
		}
	}
	if c.Cloud.TimeoutSecs < 0 {
		add("cloud.timeout_secs", "cannot be negative")
	}
	if c.Cloud.RequestsPerMinute < 0 {
		add("cloud.requests_per_minute", "cannot be negative")
	}

	// Turn
	if _, err := router.ParseBudgetMode(c.Turn.BudgetMode); err != nil {
		add("turn.budget_mode", "invalid mode '%s', must be one of: free-first, cost-effective, quality-first", c.Turn.BudgetMode)
	}
	if c.Turn.MaxRetries < 0 || c.Turn.MaxRetries > 10 {
		add("turn.max_retries", "must be between 0 and 10")
	}
	if c.Turn.ContextMessages < 0 {
		add("turn.context_messages", "cannot be negative")
	}
	if c.Turn.IdleTimeoutSecs < 0 {
		add("turn.idle_timeout_secs", "cannot be negative")
	}

	// Typewriter
	if c.Typewriter.MinCharsPerTick < 1 {
		add("typewriter.min_chars_per_tick", "must be at least 1")
	}
	if c.Typewriter.MaxCharsPerTick < c.Typewriter.MinCharsPerTick {
		add("typewriter.max_chars_per_tick", "must not be below min_chars_per_tick")
	}

	// Storage
	switch strings.ToLower(c.Storage.Backend) {
	case "sqlite", "json":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: sqlite, json", c.Storage.Backend)
	}

	// Logging
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}

	// UI
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "cannot be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values and clamps the typewriter speed.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	if c.Cloud.TimeoutSecs == 0 {
		c.Cloud.TimeoutSecs = defaults.Cloud.TimeoutSecs
	}
	if c.Turn.BudgetMode == "" {
		c.Turn.BudgetMode = defaults.Turn.BudgetMode
	}
	if c.Turn.IdleTimeoutSecs == 0 {
		c.Turn.IdleTimeoutSecs = defaults.Turn.IdleTimeoutSecs
	}
	if c.Typewriter.Speed == 0 {
		c.Typewriter.Speed = defaults.Typewriter.Speed
	}
	c.Typewriter.Speed = min(max(c.Typewriter.Speed, 0.1), 8.0)
	if c.Typewriter.MinCharsPerTick == 0 {
		c.Typewriter.MinCharsPerTick = defaults.Typewriter.MinCharsPerTick
	}
	if c.Typewriter.MaxCharsPerTick == 0 {
		c.Typewriter.MaxCharsPerTick = defaults.Typewriter.MaxCharsPerTick
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGCHAT_API_KEY: overrides cloud.api_key
//   - OPENROUTER_API_KEY: used for cloud.api_key when RIGCHAT_API_KEY is unset
//   - RIGCHAT_BASE_URL: overrides cloud.base_url
//   - RIGCHAT_MODEL: overrides turn.model
//   - RIGCHAT_BUDGET: overrides turn.budget_mode
//   - RIGCHAT_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("RIGCHAT_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if baseURL := os.Getenv("RIGCHAT_BASE_URL"); baseURL != "" {
		c.Cloud.BaseURL = baseURL
	}
	if model := os.Getenv("RIGCHAT_MODEL"); model != "" {
		c.Turn.Model = model
	}
	if budget := os.Getenv("RIGCHAT_BUDGET"); budget != "" {
		c.Turn.BudgetMode = budget
	}
	if level := os.Getenv("RIGCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// BudgetMode returns the parsed budget mode. Invalid values fall back to
// free-first; Validate reports them.
func (c *Config) BudgetMode() router.BudgetMode {
	mode, err := router.ParseBudgetMode(c.Turn.BudgetMode)
	if err != nil {
		return router.FreeFirst
	}
	return mode
}

// LogLevel returns the parsed log level, or info.
func (c *Config) LogLevel() slog.Level {
	level, err := ParseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// Timeout returns the HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Cloud.TimeoutSecs) * time.Second
}

// IdleTimeout returns the stream inactivity window.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Turn.IdleTimeoutSecs) * time.Second
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "turn.budget_mode").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type; lists are comma separated.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strings.ToLower(strVal))
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"cloud.api_key",
		"cloud.base_url",
		"cloud.timeout_secs",
		"cloud.requests_per_minute",
		"cloud.site_url",
		"cloud.site_name",
		"turn.model",
		"turn.fallback_models",
		"turn.budget_mode",
		"turn.max_retries",
		"turn.streaming",
		"turn.context_messages",
		"turn.system_prompt",
		"turn.idle_timeout_secs",
		"typewriter.enabled",
		"typewriter.speed",
		"typewriter.min_chars_per_tick",
		"typewriter.max_chars_per_tick",
		"storage.backend",
		"storage.path",
		"logging.level",
		"logging.file",
		"ui.markdown",
		"ui.word_wrap",
	}
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Turn.FallbackModels != nil {
		clone.Turn.FallbackModels = append([]string(nil), c.Turn.FallbackModels...)
	}
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts the API key so it never reaches logs or the terminal.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Cloud.APIKey != "" {
		safe.Cloud.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
