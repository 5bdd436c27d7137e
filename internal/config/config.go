// Package config loads daemon configuration from ~/.opsbridge/config.yaml.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file is absent or a field is unset.
const (
	DefaultIdleTimeout    = 8 * time.Hour
	DefaultRequestTimeout = 30 * time.Second
	DefaultRefreshTimeout = 15 * time.Second
	DefaultWarmupTimeout  = 5 * time.Second
	DefaultWarmupAttempts = 5
)

// Config holds daemon configuration.
type Config struct {
	// APIBaseURL is the remote back-office API root, e.g.
	// "https://api.orbitel.example/admin". Reloadable.
	APIBaseURL string `yaml:"api_base_url"`

	// IdleTimeout is how long a session may sit idle before silent
	// re-login is refused and fresh credentials are required.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds each outbound API request. Reloadable.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RefreshTimeout bounds the token refresh call specifically. A hung
	// refresh would wedge every waiting request, so this is always finite.
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`

	// WarmupTimeout and WarmupAttempts bound the startup connectivity probe.
	WarmupTimeout  time.Duration `yaml:"warmup_timeout"`
	WarmupAttempts int           `yaml:"warmup_attempts"`
}

// DefaultPath returns the default config file path: ~/.opsbridge/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".opsbridge", "config.yaml")
}

// Load reads a YAML config file from path. A missing file returns defaults
// and no error; unset fields are filled with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.WarmupTimeout <= 0 {
		c.WarmupTimeout = DefaultWarmupTimeout
	}
	if c.WarmupAttempts <= 0 {
		c.WarmupAttempts = DefaultWarmupAttempts
	}
}
