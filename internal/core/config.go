package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration decodes TOML strings such as "3s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the console configuration.
type Config struct {
	API      APIConfig      `toml:"api"`
	Sync     SyncConfig     `toml:"sync"`
	Viewport ViewportConfig `toml:"viewport"`
	Cache    CacheConfig    `toml:"cache"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type APIConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

type SyncConfig struct {
	PollInterval     Duration `toml:"poll_interval"`
	PageSize         int      `toml:"page_size"`
	ProtectionWindow Duration `toml:"protection_window"`
	CycleTimeout     Duration `toml:"cycle_timeout"`
	SendTimeout      Duration `toml:"send_timeout"`
}

type ViewportConfig struct {
	BottomThreshold int `toml:"bottom_threshold"`
}

type CacheConfig struct {
	Path             string `toml:"path"`
	MaxConversations int    `toml:"max_conversations"`
}

type NotifyConfig struct {
	Enabled   bool `toml:"enabled"`
	PerMinute int  `toml:"per_minute"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{Timeout: Duration{20 * time.Second}},
		Sync: SyncConfig{
			PollInterval:     Duration{3 * time.Second},
			PageSize:         50,
			ProtectionWindow: Duration{30 * time.Second},
			CycleTimeout:     Duration{15 * time.Second},
			SendTimeout:      Duration{20 * time.Second},
		},
		Viewport: ViewportConfig{BottomThreshold: 150},
		Cache:    CacheConfig{MaxConversations: 20},
		Notify:   NotifyConfig{Enabled: true, PerMinute: 12},
		Log:      LogConfig{Level: "info"},
	}
}

// DefaultConfigDir is ~/.config/inbox.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "inbox"), nil
}

// DefaultConfigPath is ~/.config/inbox/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadConfig reads .env, the TOML file at path (missing file is fine), then
// INBOX_* environment overrides. An empty path uses DefaultConfigPath.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = defaultPath
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	applyEnv(&cfg)
	if cfg.Cache.Path == "" {
		if dir, err := DefaultConfigDir(); err == nil {
			cfg.Cache.Path = filepath.Join(dir, "snapshots.db")
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("INBOX_API_URL")); v != "" {
		cfg.API.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("INBOX_TOKEN")); v != "" {
		cfg.API.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("INBOX_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("INBOX_POLL_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.PollInterval = Duration{d}
		}
	}
	if v := strings.TrimSpace(os.Getenv("INBOX_PAGE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PageSize = n
		}
	}
}

// Validate rejects settings the sync engine cannot run with.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"api.timeout", c.API.Timeout.Duration},
		{"sync.poll_interval", c.Sync.PollInterval.Duration},
		{"sync.protection_window", c.Sync.ProtectionWindow.Duration},
		{"sync.cycle_timeout", c.Sync.CycleTimeout.Duration},
		{"sync.send_timeout", c.Sync.SendTimeout.Duration},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive", check.name)
		}
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}
	if c.Viewport.BottomThreshold < 0 {
		return fmt.Errorf("viewport.bottom_threshold cannot be negative")
	}
	if c.Cache.MaxConversations < 0 {
		return fmt.Errorf("cache.max_conversations cannot be negative")
	}
	return nil
}
