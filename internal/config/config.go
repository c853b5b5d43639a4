// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/chatportal/internal/router"
	"github.com/jeranaias/chatportal/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatportal configuration.
type Config struct {
	Server    ServerConfig              `toml:"server" json:"server"`
	Auth      AuthConfig                `toml:"auth" json:"auth"`
	Chat      ChatConfig                `toml:"chat" json:"chat"`
	Sessions  SessionConfig             `toml:"sessions" json:"sessions"`
	Usage     UsageConfig               `toml:"usage" json:"usage"`
	Log       LogConfig                 `toml:"log" json:"log"`
	Providers map[string]ProviderConfig `toml:"providers" json:"providers"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host             string `toml:"host" json:"host"`
	Port             int    `toml:"port" json:"port"`
	ReadTimeoutSecs  int    `toml:"read_timeout_secs" json:"read_timeout_secs"`
	WriteTimeoutSecs int    `toml:"write_timeout_secs" json:"write_timeout_secs"`
	MaxBodyMB        int    `toml:"max_body_mb" json:"max_body_mb"`

	// Per-client-IP rate limit. Zero RequestsPerMinute disables it.
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int `toml:"burst" json:"burst"`

	// Public directory served at "/" (the chat page). Empty disables it.
	StaticDir string `toml:"static_dir" json:"static_dir"`

	// Sent to OpenRouter as attribution headers.
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
}

// AuthConfig contains the HTTP basic auth credentials. Password may be given
// in plaintext; it is replaced by a bcrypt hash at load.
type AuthConfig struct {
	Username     string `toml:"username" json:"username"`
	Password     string `toml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `toml:"password_hash" json:"password_hash"`
}

// Enabled reports whether basic auth is configured.
func (a AuthConfig) Enabled() bool {
	return a.Username != "" && a.PasswordHash != ""
}

// ChatConfig contains turn defaults.
type ChatConfig struct {
	DefaultModel       string  `toml:"default_model" json:"default_model"`
	Temperature        float64 `toml:"temperature" json:"temperature"`
	MaxTokens          int     `toml:"max_tokens" json:"max_tokens"`
	RequestTimeoutSecs int     `toml:"request_timeout_secs" json:"request_timeout_secs"`
	InstructionsPath   string  `toml:"instructions_path" json:"instructions_path"`
	WatchInstructions  bool    `toml:"watch_instructions" json:"watch_instructions"`
	ExportDir          string  `toml:"export_dir" json:"export_dir"`
	CatalogPath        string  `toml:"catalog_path" json:"catalog_path"`
	ClaudeThinking     bool    `toml:"claude_thinking" json:"claude_thinking"`

	// FallbackProvider serves model ids no routing rule matches. Empty
	// keeps the built-in default (openai).
	FallbackProvider string `toml:"fallback_provider" json:"fallback_provider"`
}

// RequestTimeout returns the provider call timeout.
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// SessionConfig controls per-session conversation stores.
type SessionConfig struct {
	// IdleTTLMinutes evicts idle non-default sessions. Zero disables eviction.
	IdleTTLMinutes int `toml:"idle_ttl_minutes" json:"idle_ttl_minutes"`
	MaxSessions    int `toml:"max_sessions" json:"max_sessions"`
}

// UsageConfig controls the token usage ledger.
type UsageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	DBPath  string `toml:"db_path" json:"db_path"`

	// RetentionDays prunes older turns at startup; 0 keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`   // debug, info, warn, error
	Format string `toml:"format" json:"format"` // text, json
}

// ProviderConfig holds one provider's key and optional base URL override.
type ProviderConfig struct {
	APIKey  string `toml:"api_key" json:"api_key"`
	BaseURL string `toml:"base_url" json:"base_url"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".chatportal"
	}
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              3000,
			ReadTimeoutSecs:   30,
			WriteTimeoutSecs:  180,
			MaxBodyMB:         30,
			RequestsPerMinute: 60,
			Burst:             10,
			StaticDir:         "public",
			SiteName:          "chatportal",
		},
		Chat: ChatConfig{
			DefaultModel:       "gpt-4o",
			Temperature:        1.1,
			MaxTokens:          2000,
			RequestTimeoutSecs: 120,
			InstructionsPath:   "instructions.md",
			WatchInstructions:  true,
			ExportDir:          "exports",
		},
		Sessions: SessionConfig{
			IdleTTLMinutes: 120,
			MaxSessions:    1000,
		},
		Usage: UsageConfig{
			Enabled: true,
			DBPath:  filepath.Join(dir, "usage.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Providers: map[string]ProviderConfig{},
	}
}

// SetDefaults fills zero values with defaults. Explicit false booleans are
// left alone.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = d.Server.WriteTimeoutSecs
	}
	if c.Server.MaxBodyMB == 0 {
		c.Server.MaxBodyMB = d.Server.MaxBodyMB
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = d.Server.Burst
	}

	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = d.Chat.DefaultModel
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = d.Chat.MaxTokens
	}
	if c.Chat.RequestTimeoutSecs == 0 {
		c.Chat.RequestTimeoutSecs = d.Chat.RequestTimeoutSecs
	}
	if c.Chat.InstructionsPath == "" {
		c.Chat.InstructionsPath = d.Chat.InstructionsPath
	}

	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = d.Sessions.MaxSessions
	}

	if c.Usage.DBPath == "" {
		c.Usage.DBPath = d.Usage.DBPath
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatportal configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatportal"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
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

// Load loads ~/.chatportal/config.toml, falling back to config.json and then
// to defaults. A .env file in the working directory and the process
// environment are applied on top.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error
	loaded := false

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
				cfg = Default()
			} else {
				loaded = true
			}
		}
	}

	if !loaded {
		if jsonPath, err := ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(jsonPath); statErr == nil {
				if err := LoadJSON(cfg, jsonPath); err != nil {
					loadErr = errors.Join(loadErr, fmt.Errorf("failed to load JSON config: %w", err))
					cfg = Default()
				}
			}
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads a specific file (.json, otherwise TOML) with env
// overrides and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		slog.Warn("CONFIG_PERMISSIONS", "path", path, "error", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		slog.Warn("CONFIG_PERMISSIONS", "path", path, "error", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// finish applies .env, env overrides, defaults, password hashing and
// validation, in that order.
func (c *Config) finish() error {
	if err := LoadDotEnv(".env"); err != nil {
		slog.Warn("DOTENV_LOAD_FAILED", "error", err)
	}
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.HashPassword(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// =============================================================================
// SAVE
// =============================================================================

// SaveTOML writes the configuration to path with 0600 permissions.
// Plaintext passwords are never written.
func SaveTOML(cfg *Config, path string) error {
	out := cfg.Clone()
	out.Auth.Password = ""

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# chatportal configuration file")
	fmt.Fprintln(&buf, "# API keys may also come from the environment (OPENAI_API_KEY, ...).")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// PASSWORD HASHING
// =============================================================================

// HashPassword replaces a plaintext Auth.Password with its bcrypt hash.
// A password that already looks like a bcrypt hash is moved as is.
func (c *Config) HashPassword() error {
	pw := c.Auth.Password
	if pw == "" {
		return nil
	}
	c.Auth.Password = ""

	if isBcryptHash(pw) {
		c.Auth.PasswordHash = pw
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	c.Auth.PasswordHash = string(hash)
	return nil
}

func isBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
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

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 {
		add("server.timeouts", "must not be negative")
	}
	if c.Server.MaxBodyMB < 1 || c.Server.MaxBodyMB > 100 {
		add("server.max_body_mb", "must be between 1 and 100, got %d", c.Server.MaxBodyMB)
	}
	if c.Server.RequestsPerMinute < 0 {
		add("server.requests_per_minute", "must not be negative")
	}
	if c.Server.Burst < 0 {
		add("server.burst", "must not be negative")
	}

	if c.Auth.Username != "" && c.Auth.PasswordHash == "" {
		add("auth.password", "required when auth.username is set")
	}
	if c.Auth.Username == "" && c.Auth.PasswordHash != "" {
		add("auth.username", "required when a password is set")
	}
	if c.Auth.PasswordHash != "" && !isBcryptHash(c.Auth.PasswordHash) {
		add("auth.password_hash", "must be a bcrypt hash")
	}

	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		add("chat.temperature", "must be between 0 and 2, got %g", c.Chat.Temperature)
	}
	if c.Chat.MaxTokens < 1 || c.Chat.MaxTokens > 200000 {
		add("chat.max_tokens", "must be between 1 and 200000, got %d", c.Chat.MaxTokens)
	}
	if c.Chat.RequestTimeoutSecs < 1 || c.Chat.RequestTimeoutSecs > 3600 {
		add("chat.request_timeout_secs", "must be between 1 and 3600, got %d", c.Chat.RequestTimeoutSecs)
	}
	if c.Chat.FallbackProvider != "" {
		if _, err := router.ParseKind(c.Chat.FallbackProvider); err != nil {
			add("chat.fallback_provider", "unknown provider %q", c.Chat.FallbackProvider)
		}
	}

	if c.Sessions.IdleTTLMinutes < 0 {
		add("sessions.idle_ttl_minutes", "must not be negative")
	}
	if c.Sessions.MaxSessions < 0 {
		add("sessions.max_sessions", "must not be negative")
	}

	if c.Usage.Enabled && c.Usage.DBPath == "" {
		add("usage.db_path", "required when usage is enabled")
	}
	if c.Usage.RetentionDays < 0 {
		add("usage.retention_days", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid format %q, must be text or json", c.Log.Format)
	}

	for name, p := range c.Providers {
		if _, err := router.ParseKind(name); err != nil {
			add("providers."+name, "unknown provider")
			continue
		}
		if p.BaseURL != "" && !strings.HasPrefix(p.BaseURL, "https://") && !strings.HasPrefix(p.BaseURL, "http://") {
			add("providers."+name+".base_url", "must be an http(s) URL")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// providerEnv lists the API key variables per provider; the first set wins.
var providerEnv = map[router.Kind][]string{
	router.KindOpenAI:     {"OPENAI_API_KEY"},
	router.KindOpenRouter: {"OPENROUTER_API_KEY"},
	router.KindClaude:     {"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	router.KindGroq:       {"GROQ_API_KEY"},
	router.KindMistral:    {"MISTRAL_API_KEY"},
	router.KindCodestral:  {"CODESTRAL_API_KEY"},
	router.KindDeepSeek:   {"DEEPSEEK_API_KEY"},
	router.KindGemini:     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	router.KindGrok:       {"GROK_API_KEY", "XAI_API_KEY"},
	router.KindKimi:       {"KIMI_API_KEY", "MOONSHOT_API_KEY"},
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - <PROVIDER>_API_KEY: provider keys (OPENAI_API_KEY, CLAUDE_API_KEY, ...)
//   - TEMPERATURE, MAX_TOKENS: chat defaults
//   - PORT_SERVER: server.port
//   - HOST_SERVER: server.host
//   - USER_USERNAME, USER_PASSWORD: basic auth credentials
//   - DEFAULT_MODEL: chat.default_model
//   - CHATPORTAL_LOG_LEVEL: log.level
func (c *Config) ApplyEnvOverrides() {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for kind, names := range providerEnv {
		for _, name := range names {
			if key := os.Getenv(name); key != "" {
				p := c.Provider(kind)
				p.APIKey = key
				c.Providers[kind.Key()] = p
				break
			}
		}
	}

	if v := os.Getenv("TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chat.Temperature = f
		} else {
			slog.Warn("CONFIG_ENV_INVALID", "var", "TEMPERATURE", "value", v)
		}
	}
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.MaxTokens = n
		} else {
			slog.Warn("CONFIG_ENV_INVALID", "var", "MAX_TOKENS", "value", v)
		}
	}
	if v := os.Getenv("PORT_SERVER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		} else {
			slog.Warn("CONFIG_ENV_INVALID", "var", "PORT_SERVER", "value", v)
		}
	}
	if v := os.Getenv("HOST_SERVER"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("USER_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := os.Getenv("USER_PASSWORD"); v != "" {
		c.Auth.Password = v
		c.Auth.PasswordHash = ""
	}
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
	if v := os.Getenv("CHATPORTAL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Provider returns the settings for kind. Keys may be written under an alias
// ("moonshot" for kimi).
func (c *Config) Provider(kind router.Kind) ProviderConfig {
	if p, ok := c.Providers[kind.Key()]; ok {
		return p
	}
	for name, p := range c.Providers {
		if k, err := router.ParseKind(name); err == nil && k == kind {
			return p
		}
	}
	return ProviderConfig{}
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "chat.max_tokens").
// Provider entries are reached as "providers.<name>.base_url"; API keys are
// never returned.
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	if parts[0] == "providers" {
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid key: %s", key)
		}
		p, ok := c.Providers[parts[1]]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", parts[1])
		}
		switch parts[2] {
		case "base_url":
			return p.BaseURL, nil
		case "api_key":
			return redact(p.APIKey), nil
		default:
			return nil, fmt.Errorf("unknown field: %s", key)
		}
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if strings.EqualFold(fieldName, "Password") || strings.EqualFold(fieldName, "PasswordHash") {
				return redact(field.String()), nil
			}
			return field.Interface(), nil
		}

		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
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

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for k, v := range c.Providers {
		clone.Providers[k] = v
	}
	return &clone
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	safe.Auth.Password = redact(safe.Auth.Password)
	safe.Auth.PasswordHash = redact(safe.Auth.PasswordHash)
	for k, p := range safe.Providers {
		p.APIKey = redact(p.APIKey)
		safe.Providers[k] = p
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			slog.Warn("CONFIG_LOAD_FAILED", "error", err)
		}
		if cfg == nil {
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
