// Package config provides configuration loading for swarmmem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config holds every recognized knob.
type Config struct {
	DBPath            string        `koanf:"db_path"`
	CacheSize         int           `koanf:"cache_size"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`
	AnalyticsInterval time.Duration `koanf:"analytics_interval"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	StrictSharing     bool          `koanf:"strict_sharing"`
	PerfTracking      bool          `koanf:"perf_tracking"`
	PerfRetention     time.Duration `koanf:"perf_retention"`
	LogLevel          string        `koanf:"log_level"`
	LogFormat         string        `koanf:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:            filepath.Join(home, ".swarmmem", "memory.db"),
		CleanupInterval:   300 * time.Second,
		AnalyticsInterval: 60 * time.Second,
		SessionTimeout:    time.Hour,
		PerfTracking:      true,
		PerfRetention:     24 * time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads configuration with the precedence (highest first):
// SWARMMEM_* environment variables, the YAML file at configPath, built-in
// defaults. An empty configPath falls back to $SWARMMEM_CONFIG, then
// ~/.swarmmem/config.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = os.Getenv("SWARMMEM_CONFIG")
	}
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, ".swarmmem", "config.yaml")
	}

	if content, err := os.ReadFile(configPath); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// SWARMMEM_CLEANUP_INTERVAL -> cleanup_interval
	if err := k.Load(env.Provider("SWARMMEM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SWARMMEM_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	if c.AnalyticsInterval <= 0 {
		return fmt.Errorf("analytics_interval must be positive")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if c.PerfRetention <= 0 {
		return fmt.Errorf("perf_retention must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log_format must be json or console, got %q", c.LogFormat)
	}
	return nil
}
