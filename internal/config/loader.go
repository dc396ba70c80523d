// Package config provides centralized configuration management for APILens.
// Settings merge in three layers: built-in defaults, an optional YAML config
// file discovered via app identity, and APILENS_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// Load decodes the merged viper settings into a typed Config and stores it as
// the current configuration. It is safe to call multiple times (config reload).
func Load() (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate checks the settings that upstream-facing commands depend on. It is
// separate from Load so that commands with no upstream involvement (version,
// status against a local server) do not require credentials.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if strings.TrimSpace(c.Auth.TokenURL) == "" {
		return fmt.Errorf("auth.token_url is required")
	}
	if strings.TrimSpace(c.Auth.Username) == "" || strings.TrimSpace(c.Auth.Password) == "" {
		return fmt.Errorf("auth.username and auth.password are required")
	}

	if c.Quota.MinuteLimit <= 0 {
		return fmt.Errorf("quota.minute_limit must be positive, got %d", c.Quota.MinuteLimit)
	}
	if c.Quota.DayLimit <= 0 {
		return fmt.Errorf("quota.day_limit must be positive, got %d", c.Quota.DayLimit)
	}
	if c.Quota.MaxConcurrent <= 0 {
		return fmt.Errorf("quota.max_concurrent must be positive, got %d", c.Quota.MaxConcurrent)
	}
	if _, err := c.Quota.ResetLocation(); err != nil {
		return fmt.Errorf("quota.reset_zone is not a valid IANA zone: %w", err)
	}

	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir("apilens")
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
