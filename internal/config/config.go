// Package config loads the gateway configuration once at startup into an
// immutable value that is passed explicitly into each component's constructor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// AuthMode selects which credential verifier the gateway uses.
type AuthMode string

const (
	// AuthModeStatic compares the credential against a locally configured secret.
	AuthModeStatic AuthMode = "static"

	// AuthModeRemote delegates verification to a remote auth service.
	AuthModeRemote AuthMode = "remote"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	Storage   StorageConfig   `koanf:"storage"`
	Clients   []ClientConfig  `koanf:"clients"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type AuthConfig struct {
	// Mode is "static" or "remote". Defaults to "remote" when a service URL
	// is configured, "static" otherwise.
	Mode AuthMode `koanf:"mode"`

	// Token is the shared secret for static mode.
	Token string `koanf:"token"`

	// ServiceURL is the base URL of the remote verification service.
	ServiceURL string `koanf:"service_url"`

	// Timeout bounds the remote verification call.
	Timeout time.Duration `koanf:"timeout"`
}

type RateLimitConfig struct {
	// Limit is the number of requests admitted per window per identity.
	Limit int `koanf:"limit"`

	// Window is the trailing interval the limit applies to.
	Window time.Duration `koanf:"window"`

	// MaxIdentities bounds how many per-identity windows are kept in memory.
	MaxIdentities int `koanf:"max_identities"`
}

type AnthropicConfig struct {
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type StorageConfig struct {
	// Type is "sqlite" or "memory".
	Type string `koanf:"type"`
	Path string `koanf:"path"`
}

// ClientConfig declares a client profile in the config file.
type ClientConfig struct {
	ID           string `koanf:"id"`
	Name         string `koanf:"name"`
	SystemPrompt string `koanf:"system_prompt"`
	MaxTokens    int    `koanf:"max_tokens"`
}

const (
	defaultPort          = 8000
	defaultRateLimit     = 30
	defaultRateWindow    = 60 * time.Second
	defaultMaxIdentities = 10000
	defaultAuthTimeout   = 5 * time.Second
	defaultModel         = "claude-sonnet-4-5-20250929"
	defaultCallTimeout   = 30 * time.Second
)

// legacyEnv maps the flat environment names the service has always honored
// onto their dotted config keys.
var legacyEnv = map[string]string{
	"API_TOKEN":         "auth.token",
	"AUTH_SERVICE_URL":  "auth.service_url",
	"ANTHROPIC_API_KEY": "anthropic.api_key",
	"ANTHROPIC_MODEL":   "anthropic.model",
	"RATE_LIMIT":        "rate_limit.limit",
	"PORT":              "server.port",
}

// Load reads configuration from an optional YAML file with environment
// variables layered on top. The returned Config is treated as immutable for
// the process lifetime.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Environment variables override file config
	if err := k.Load(env.Provider("CHATBOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHATBOT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" && !k.Exists(key) {
			k.Set(key, v)
		}
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Auth.Mode == "" {
		if cfg.Auth.ServiceURL != "" {
			cfg.Auth.Mode = AuthModeRemote
		} else {
			cfg.Auth.Mode = AuthModeStatic
		}
	}

	if cfg.Auth.Mode != AuthModeStatic && cfg.Auth.Mode != AuthModeRemote {
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":              defaultPort,
		"rate_limit.limit":         defaultRateLimit,
		"rate_limit.window":        defaultRateWindow,
		"rate_limit.max_identities": defaultMaxIdentities,
		"auth.timeout":             defaultAuthTimeout,
		"anthropic.model":          defaultModel,
		"anthropic.timeout":        defaultCallTimeout,
		"storage.type":             "memory",
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}
