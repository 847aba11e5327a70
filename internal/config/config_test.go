package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, 300*time.Second, cfg.CleanupInterval)
	assert.Equal(t, 60*time.Second, cfg.AnalyticsInterval)
	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.True(t, cfg.PerfTracking)
	assert.False(t, cfg.StrictSharing)
	assert.Equal(t, "json", cfg.LogFormat)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().CleanupInterval, cfg.CleanupInterval)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/test-memory.db
cleanup_interval: 30s
session_timeout: 10m
strict_sharing: true
log_format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-memory.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.True(t, cfg.StrictSharing)
	assert.Equal(t, "console", cfg.LogFormat)
	// Untouched knobs keep their defaults.
	assert.Equal(t, Default().AnalyticsInterval, cfg.AnalyticsInterval)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "cleanup_interval: 30s\n")
	t.Setenv("SWARMMEM_CLEANUP_INTERVAL", "5m")
	t.Setenv("SWARMMEM_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "session_timeout: 2h\n")
	t.Setenv("SWARMMEM_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.SessionTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero cleanup interval", func(c *Config) { c.CleanupInterval = 0 }},
		{"negative analytics interval", func(c *Config) { c.AnalyticsInterval = -time.Second }},
		{"zero session timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"zero perf retention", func(c *Config) { c.PerfRetention = 0 }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "cleanup_interval: [\n")
	_, err := Load(path)
	assert.Error(t, err)
}
