// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Config holds the resolved configuration.
type Config struct {
	// SSO settings
	SSOEnabled   bool     `json:"sso_enabled"`
	ClientID     string   `json:"client_id"`
	AuthorizeURL string   `json:"authorize_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"userinfo_url"`
	Scopes       []string `json:"scopes"`

	// CallbackTimeout bounds one authorization attempt.
	CallbackTimeout time.Duration `json:"-"`
	// DefaultTokenLifetime applies when the token endpoint omits expires_in.
	DefaultTokenLifetime time.Duration `json:"-"`

	// Storage settings
	KeyringService string `json:"keyring_service"`
	StateDir       string `json:"state_dir"`

	// Per-kind default base URLs for account credentials.
	AccountBaseURLs map[string]string `json:"account_base_urls,omitempty"`

	// Output settings
	Format string `json:"format"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
	SourcePrompt  Source = "prompt"
)

// Design values for the authorization flow.
const (
	DefaultCallbackTimeout      = 5 * time.Minute
	DefaultTokenLifetime        = time.Hour
	DefaultKeyringService       = "devflow"
	DefaultScopes               = "openid email profile"
	defaultAuthorizeURL         = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL             = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL          = "https://openidconnect.googleapis.com/v1/userinfo"
	maxCallbackTimeout          = time.Hour
	minDefaultTokenLifetimeSecs = 60
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ClientID string
	StateDir string
	Format   string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SSOEnabled:           true,
		AuthorizeURL:         defaultAuthorizeURL,
		TokenURL:             defaultTokenURL,
		UserInfoURL:          defaultUserInfoURL,
		Scopes:               strings.Fields(DefaultScopes),
		CallbackTimeout:      DefaultCallbackTimeout,
		DefaultTokenLifetime: DefaultTokenLifetime,
		KeyringService:       DefaultKeyringService,
		StateDir:             GlobalConfigDir(),
		AccountBaseURLs:      make(map[string]string),
		Format:               "auto",
		Sources:              make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, GlobalConfigPath(), SourceGlobal)

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	applyMap(cfg, fileCfg, source, path)
}

func applyMap(cfg *Config, m map[string]any, source Source, path string) {
	setString := func(key string, dst *string) {
		if v, ok := m[key].(string); ok && v != "" {
			*dst = v
			cfg.Sources[key] = string(source)
		}
	}

	setString("client_id", &cfg.ClientID)
	setString("authorize_url", &cfg.AuthorizeURL)
	setString("token_url", &cfg.TokenURL)
	setString("userinfo_url", &cfg.UserInfoURL)
	setString("keyring_service", &cfg.KeyringService)
	setString("state_dir", &cfg.StateDir)
	setString("format", &cfg.Format)

	if v, ok := m["sso_enabled"].(bool); ok {
		cfg.SSOEnabled = v
		cfg.Sources["sso_enabled"] = string(source)
	}
	if v, ok := m["scopes"].(string); ok && v != "" {
		cfg.Scopes = strings.Fields(v)
		cfg.Sources["scopes"] = string(source)
	}
	if v, ok := m["callback_timeout"].(string); ok && v != "" {
		if d, err := parseCallbackTimeout(v); err == nil {
			cfg.CallbackTimeout = d
			cfg.Sources["callback_timeout"] = string(source)
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring callback_timeout in %s: %v\n", path, err)
		}
	}
	if v, ok := m["default_token_lifetime"].(string); ok && v != "" {
		if d, err := parseTokenLifetime(v); err == nil {
			cfg.DefaultTokenLifetime = d
			cfg.Sources["default_token_lifetime"] = string(source)
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring default_token_lifetime in %s: %v\n", path, err)
		}
	}
	if v, ok := m["account_base_urls"].(map[string]any); ok {
		for kind, raw := range v {
			if u, ok := raw.(string); ok && u != "" {
				cfg.AccountBaseURLs[kind] = u
			}
		}
		cfg.Sources["account_base_urls"] = string(source)
	}
}

func parseCallbackTimeout(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 || d > maxCallbackTimeout {
		return 0, fmt.Errorf("must be between 0 and %s", maxCallbackTimeout)
	}
	return d, nil
}

func parseTokenLifetime(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < minDefaultTokenLifetimeSecs*time.Second {
		return 0, fmt.Errorf("must be at least %ds", minDefaultTokenLifetimeSecs)
	}
	return d, nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	env := map[string]any{}
	pairs := []struct{ env, key string }{
		{"DEVFLOW_CLIENT_ID", "client_id"},
		{"DEVFLOW_AUTHORIZE_URL", "authorize_url"},
		{"DEVFLOW_TOKEN_URL", "token_url"},
		{"DEVFLOW_USERINFO_URL", "userinfo_url"},
		{"DEVFLOW_KEYRING_SERVICE", "keyring_service"},
		{"DEVFLOW_STATE_DIR", "state_dir"},
		{"DEVFLOW_FORMAT", "format"},
		{"DEVFLOW_SCOPES", "scopes"},
		{"DEVFLOW_CALLBACK_TIMEOUT", "callback_timeout"},
		{"DEVFLOW_DEFAULT_TOKEN_LIFETIME", "default_token_lifetime"},
	}
	for _, p := range pairs {
		if v := os.Getenv(p.env); v != "" {
			env[p.key] = v
		}
	}
	if v := os.Getenv("DEVFLOW_SSO_ENABLED"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			env["sso_enabled"] = b
		}
	}
	applyMap(cfg, env, SourceEnv, "environment")
}

// parseEnvBool parses a boolean environment variable strictly.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.ClientID != "" {
		cfg.ClientID = o.ClientID
		cfg.Sources["client_id"] = string(SourceFlag)
	}
	if o.StateDir != "" {
		cfg.StateDir = o.StateDir
		cfg.Sources["state_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// ValidKeys lists the keys accepted by Set and the config commands.
var ValidKeys = []string{
	"account_base_urls.repo_host",
	"account_base_urls.ticket_tracker",
	"account_base_urls.wiki",
	"authorize_url",
	"callback_timeout",
	"client_id",
	"default_token_lifetime",
	"format",
	"keyring_service",
	"scopes",
	"sso_enabled",
	"state_dir",
	"token_url",
	"userinfo_url",
}

// IsValidKey reports whether key is accepted by Set.
func IsValidKey(key string) bool {
	for _, k := range ValidKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SaveGlobal writes key=value into the global config file atomically.
// Dotted account_base_urls keys write into the nested map.
func SaveGlobal(key, value string) error {
	return saveTo(GlobalConfigPath(), key, value)
}

// UnsetGlobal removes key from the global config file. Missing files and
// keys are not errors.
func UnsetGlobal(key string) (bool, error) {
	path := GlobalConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config location
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	configData := make(map[string]any)
	_ = json.Unmarshal(data, &configData) // Treat invalid JSON as empty

	removed := false
	if kind, ok := strings.CutPrefix(key, "account_base_urls."); ok {
		if urls, ok := configData["account_base_urls"].(map[string]any); ok {
			if _, exists := urls[kind]; exists {
				delete(urls, kind)
				removed = true
			}
		}
	} else if _, exists := configData[key]; exists {
		delete(configData, key)
		removed = true
	}
	if !removed {
		return false, nil
	}
	return true, writeConfigMap(path, configData)
}

func saveTo(path, key, value string) error {
	if !IsValidKey(key) {
		return fmt.Errorf("invalid config key %q", key)
	}

	configData := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // G304: Path is from trusted config location
		_ = json.Unmarshal(data, &configData) // Start fresh if invalid
	}

	switch key {
	case "sso_enabled":
		b, ok := parseEnvBool(value)
		if !ok {
			return fmt.Errorf("sso_enabled must be true/false (or 1/0)")
		}
		configData[key] = b
	case "callback_timeout":
		if _, err := parseCallbackTimeout(value); err != nil {
			return fmt.Errorf("callback_timeout: %w", err)
		}
		configData[key] = value
	case "default_token_lifetime":
		if _, err := parseTokenLifetime(value); err != nil {
			return fmt.Errorf("default_token_lifetime: %w", err)
		}
		configData[key] = value
	default:
		if kind, ok := strings.CutPrefix(key, "account_base_urls."); ok {
			urls, _ := configData["account_base_urls"].(map[string]any)
			if urls == nil {
				urls = make(map[string]any)
			}
			urls[kind] = value
			configData["account_base_urls"] = urls
		} else {
			configData[key] = value
		}
	}

	return writeConfigMap(path, configData)
}

func writeConfigMap(path string, configData map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return AtomicWriteFile(path, append(data, '\n'))
}

// AtomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists.
	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(path)
			return os.Rename(tmpPath, path)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Path helpers

func systemConfigPath() string {
	return "/etc/devflow/config.json"
}

// GlobalConfigPath returns the path of the per-user config file.
func GlobalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "devflow")
}
