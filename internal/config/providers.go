package config

import (
	"fmt"
	"net/url"
	"time"
)

// ProviderConfig configures the market data provider and its failover chain
type ProviderConfig struct {
	BaseURLs   []string      `yaml:"base_urls"`   // Primary first, then fallbacks
	APIKey     string        `yaml:"api_key"`     // Optional, sent as x-cg-pro-api-key
	Days       int           `yaml:"days"`        // Days of history to request
	RPS        float64       `yaml:"rps"`         // Requests per second per host
	Burst      int           `yaml:"burst"`       // Burst capacity
	TimeoutMS  int           `yaml:"timeout_ms"`  // Per-request timeout in milliseconds
	Circuit    CircuitConfig `yaml:"circuit"`     // Circuit breaker config
	UserAgent  string        `yaml:"user_agent"`  // User agent for all requests
	VsCurrency string        `yaml:"vs_currency"` // Quote currency
}

// CircuitConfig represents circuit breaker configuration
type CircuitConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`  // Consecutive failures to open circuit
	HalfOpenRequests uint32 `yaml:"half_open_requests"` // Requests allowed while half-open
	OpenSecs         int    `yaml:"open_secs"`          // Time the circuit stays open
	IntervalSecs     int    `yaml:"interval_secs"`      // Closed-state counter reset interval
}

// Validate ensures a provider configuration is valid
func (p *ProviderConfig) Validate() error {
	if len(p.BaseURLs) == 0 {
		return fmt.Errorf("base_urls cannot be empty")
	}
	for _, raw := range p.BaseURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base url %q", raw)
		}
	}
	if p.Days <= 0 {
		return fmt.Errorf("days must be positive, got %d", p.Days)
	}
	if p.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %v", p.RPS)
	}
	if p.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", p.Burst)
	}
	if p.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", p.TimeoutMS)
	}
	if p.VsCurrency == "" {
		return fmt.Errorf("vs_currency cannot be empty")
	}

	if err := p.Circuit.Validate(); err != nil {
		return fmt.Errorf("circuit: %w", err)
	}
	return nil
}

// Validate ensures circuit breaker configuration is valid
func (c *CircuitConfig) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.OpenSecs <= 0 {
		return fmt.Errorf("open_secs must be positive, got %d", c.OpenSecs)
	}
	if c.IntervalSecs < 0 {
		return fmt.Errorf("interval_secs cannot be negative, got %d", c.IntervalSecs)
	}
	return nil
}

// GetRequestTimeout returns the request timeout as a time.Duration
func (p *ProviderConfig) GetRequestTimeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// GetOpenTimeout returns how long a tripped circuit stays open
func (c *CircuitConfig) GetOpenTimeout() time.Duration {
	return time.Duration(c.OpenSecs) * time.Second
}

// GetInterval returns the closed-state counter reset interval
func (c *CircuitConfig) GetInterval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}
