package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete stablerisk configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Provider ProviderConfig `yaml:"provider"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Watch    WatchConfig    `yaml:"watch"`
}

// LogConfig controls zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // auto|console|json
}

// ScoringConfig configures the volatility estimator feeding the scorer
type ScoringConfig struct {
	Window            int  `yaml:"window"`             // Trailing daily prices
	LogReturns        bool `yaml:"log_returns"`        // Use log instead of simple returns
	AnnualizationDays int  `yaml:"annualization_days"` // 0 disables annualization
}

// CacheConfig configures the snapshot cache
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"` // Empty selects the in-memory cache
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
	TTLSecs   int    `yaml:"ttl_secs"`
}

// DatabaseConfig configures score history persistence
type DatabaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeSecs int    `yaml:"conn_max_lifetime_secs"`
	QueryTimeoutMS  int    `yaml:"query_timeout_ms"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
}

// WatchConfig configures the periodic assessment loop
type WatchConfig struct {
	Coins           []string `yaml:"coins"`
	Schedule        string   `yaml:"schedule"` // cron spec, e.g. "@every 5m"
	MaxDeviationBps int64    `yaml:"max_deviation_bps"`
	StaleAfter      int      `yaml:"stale_after"`
}

// Default returns a configuration that works against the public CoinGecko API
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Scoring: ScoringConfig{
			Window: 30,
		},
		Provider: ProviderConfig{
			BaseURLs:   []string{"https://api.coingecko.com/api/v3"},
			Days:       45,
			RPS:        0.5,
			Burst:      2,
			TimeoutMS:  10000,
			UserAgent:  "stablerisk/1.0",
			VsCurrency: "usd",
			Circuit: CircuitConfig{
				FailureThreshold: 3,
				HalfOpenRequests: 1,
				OpenSecs:         60,
				IntervalSecs:     60,
			},
		},
		Cache: CacheConfig{
			Prefix:  "stablerisk:",
			TTLSecs: 300,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 1800,
			QueryTimeoutMS:  30000,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeoutSecs:  10,
			WriteTimeoutSecs: 10,
		},
		Watch: WatchConfig{
			Coins:           []string{"usd-coin", "tether", "dai"},
			Schedule:        "@every 5m",
			MaxDeviationBps: 1000,
			StaleAfter:      3,
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get("STABLERISK_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := get("PG_DSN"); ok {
		c.Database.DSN = v
		c.Database.Enabled = true
	}
	if v, ok := get("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := get("STABLERISK_PROVIDER_URLS"); ok {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		c.Provider.BaseURLs = urls
	}
	if v, ok := get("STABLERISK_API_KEY"); ok {
		c.Provider.APIKey = v
	}
	return nil
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log format must be auto, console or json, got %q", c.Log.Format)
	}

	if c.Scoring.Window < 2 {
		return fmt.Errorf("scoring window must be at least 2, got %d", c.Scoring.Window)
	}
	if c.Scoring.AnnualizationDays < 0 {
		return fmt.Errorf("scoring annualization_days cannot be negative")
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if c.Provider.Days < c.Scoring.Window {
		return fmt.Errorf("provider days (%d) must cover the scoring window (%d)", c.Provider.Days, c.Scoring.Window)
	}

	if c.Cache.TTLSecs < 0 {
		return fmt.Errorf("cache ttl_secs cannot be negative, got %d", c.Cache.TTLSecs)
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return errors.New("database dsn is required when enabled")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	if c.Watch.Schedule == "" {
		return errors.New("watch schedule cannot be empty")
	}
	if c.Watch.MaxDeviationBps <= 0 {
		return fmt.Errorf("watch max_deviation_bps must be positive, got %d", c.Watch.MaxDeviationBps)
	}
	return nil
}

// CacheTTL returns the snapshot cache TTL
func (c *CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// QueryTimeout returns the per-query database timeout
func (d *DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutMS) * time.Millisecond
}

// ConnMaxLifetime returns the pooled connection lifetime
func (d *DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifeSecs) * time.Second
}

// BindFlags registers the global overrides shared by every command
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to YAML config file")
	fs.String("log-level", "", "Log level override (trace|debug|info|warn|error)")
	fs.String("log-format", "", "Log format override (auto|console|json)")
}

// ApplyFlags copies explicitly set global flags into the config
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	if fs.Changed("log-level") {
		v, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		c.Log.Level = v
	}
	if fs.Changed("log-format") {
		v, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		c.Log.Format = v
	}
	return c.Validate()
}
