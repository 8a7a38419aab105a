package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stablerisk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30, cfg.Scoring.Window)
	assert.Equal(t, 5*time.Minute, cfg.Cache.CacheTTL())
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout())
	assert.Equal(t, 10*time.Second, cfg.Provider.GetRequestTimeout())
	assert.Equal(t, time.Minute, cfg.Provider.Circuit.GetOpenTimeout())
	assert.False(t, cfg.Database.Enabled)
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("STABLERISK_PROVIDER_URLS", "")

	path := writeConfig(t, `
log:
  level: debug
provider:
  base_urls:
    - https://primary.example.com/api/v3
    - https://backup.example.com/api/v3
watch:
  coins: [usd-coin]
  schedule: "@every 1m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)
	assert.Equal(t, []string{"https://primary.example.com/api/v3", "https://backup.example.com/api/v3"}, cfg.Provider.BaseURLs)
	assert.Equal(t, []string{"usd-coin"}, cfg.Watch.Coins)
	assert.Equal(t, "@every 1m", cfg.Watch.Schedule)
	assert.Equal(t, 45, cfg.Provider.Days)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PG_DSN", "postgres://u:p@db/stablerisk?sslmode=disable")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STABLERISK_PROVIDER_URLS", "https://a.example.com, https://b.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Provider.BaseURLs)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("STABLERISK_PROVIDER_URLS", "")
	t.Setenv("PG_DSN", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeConfig(t, "log: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "scoring:\n  window: 1\n"))
	assert.ErrorContains(t, err, "scoring window")

	t.Setenv("HTTP_PORT", "eighty")
	_, err = Load("")
	assert.ErrorContains(t, err, "HTTP_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad_log_format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"no_provider_urls", func(c *Config) { c.Provider.BaseURLs = nil }, "base_urls"},
		{"relative_provider_url", func(c *Config) { c.Provider.BaseURLs = []string{"/api"} }, "invalid base url"},
		{"days_shorter_than_window", func(c *Config) { c.Provider.Days = 10 }, "cover the scoring window"},
		{"zero_rps", func(c *Config) { c.Provider.RPS = 0 }, "rps"},
		{"zero_failure_threshold", func(c *Config) { c.Provider.Circuit.FailureThreshold = 0 }, "failure_threshold"},
		{"db_without_dsn", func(c *Config) { c.Database.Enabled = true }, "dsn is required"},
		{"port_out_of_range", func(c *Config) { c.Server.Port = 70000 }, "port out of range"},
		{"empty_schedule", func(c *Config) { c.Watch.Schedule = "" }, "schedule"},
		{"zero_deviation", func(c *Config) { c.Watch.MaxDeviationBps = 0 }, "max_deviation_bps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level", "warn", "--log-format", "json"}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(fs))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-format", "yaml"}))
	assert.Error(t, Default().ApplyFlags(fs))
}
