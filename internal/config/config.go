// Package config loads and validates the copilot's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// Config holds all copilotd configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	LLM      LLMConfig      `toml:"llm"`
	Store    StoreConfig    `toml:"store"`
	Sessions SessionsConfig `toml:"sessions"`
	Audit    AuditConfig    `toml:"audit"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// JWTSecret signs and verifies bearer tokens. Empty disables auth
	// (dev mode); setup logs a warning once.
	JWTSecret      string   `toml:"jwt_secret"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"` // "openai" or "anthropic"
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	TimeoutSecs int     `toml:"timeout_secs"`
}

type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "memory"
	Path   string `toml:"path"`   // sqlite file; conversation log lives next to it
}

type SessionsConfig struct {
	Backend         string `toml:"backend"` // "memory" or "redis"
	RedisAddr       string `toml:"redis_addr"`
	RedisPassword   string `toml:"redis_password"`
	TTLMinutes      int    `toml:"ttl_minutes"`
	JanitorSchedule string `toml:"janitor_schedule"` // standard cron expression
}

type AuditConfig struct {
	BufferSize int `toml:"buffer_size"`
}

type CatalogConfig struct {
	// Dir holds tools/*.toml and maps/*.yaml bundles loaded at startup.
	// Empty skips catalog loading.
	Dir          string `toml:"dir"`
	CacheTTLSecs int    `toml:"cache_ttl_secs"`
}

type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

// Default returns the configuration used when a field is absent from the
// file. The JWT secret and LLM API key deliberately have no default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8430,
			AllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   2048,
			TimeoutSecs: 120,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "./data/copilot.db",
		},
		Sessions: SessionsConfig{
			Backend:         "memory",
			TTLMinutes:      120,
			JanitorSchedule: "*/10 * * * *",
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
		Catalog: CatalogConfig{
			CacheTTLSecs: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML config file, applies defaults, and validates. A missing
// file is an error; callers wanting pure defaults pass "".
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return cfg, nil
}

// Validate rejects inconsistent combinations before anything is wired.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: sqlite store requires a path")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("config: redis session backend requires redis_addr")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Sessions.Backend)
	}
	if c.Sessions.TTLMinutes <= 0 {
		return fmt.Errorf("config: session ttl_minutes must be positive")
	}
	if _, err := cron.ParseStandard(c.Sessions.JanitorSchedule); err != nil {
		return fmt.Errorf("config: invalid janitor schedule %q: %w", c.Sessions.JanitorSchedule, err)
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("config: audit buffer_size must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// SessionTTL converts the configured minutes into a Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLMinutes) * time.Minute
}

// CacheTTL converts the catalog cache seconds into a Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Catalog.CacheTTLSecs) * time.Second
}

// LLMTimeout converts the llm timeout seconds into a Duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSecs) * time.Second
}
