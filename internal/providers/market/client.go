package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stablerisk/internal/config"
	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/infra/breakers"
	"github.com/sawpanic/stablerisk/internal/net/ratelimit"
)

var (
	// ErrUnknownAsset is returned when the provider does not know the coin id
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrAllEndpointsFailed is returned when the primary and every fallback failed
	ErrAllEndpointsFailed = errors.New("all market data endpoints failed")
	// ErrRateLimited is returned for HTTP 429 responses
	ErrRateLimited = errors.New("rate limited by provider")
	// ErrEmptyResponse is returned when the provider sends no prices
	ErrEmptyResponse = errors.New("empty market data response")
)

// Observer receives per-request timings; implemented by the metrics registry
type Observer interface {
	ObserveProviderRequest(endpoint, result string, d time.Duration)
}

type endpoint struct {
	base    string
	host    string
	breaker *breakers.Breaker
}

// Client fetches price history and market caps from CoinGecko-compatible endpoints,
// failing over from the primary to each fallback in order.
type Client struct {
	endpoints []*endpoint
	http      *http.Client
	limiter   *ratelimit.Limiter
	cfg       config.ProviderConfig
	observer  Observer
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver attaches a request observer
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient builds a client from provider configuration
func NewClient(cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	if len(cfg.BaseURLs) == 0 {
		return nil, errors.New("market client needs at least one base url")
	}

	c := &Client{
		http:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		cfg:     cfg,
	}

	settings := breakers.Settings{
		ConsecutiveFailures: cfg.Circuit.FailureThreshold,
		HalfOpenRequests:    cfg.Circuit.HalfOpenRequests,
		Interval:            cfg.Circuit.GetInterval(),
		Timeout:             cfg.Circuit.GetOpenTimeout(),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownAsset)
		},
	}
	for _, base := range cfg.BaseURLs {
		base = strings.TrimRight(base, "/")
		host := ratelimit.HostOf(base)
		c.endpoints = append(c.endpoints, &endpoint{
			base:    base,
			host:    host,
			breaker: breakers.NewWithSettings("market:"+host, settings),
		})
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Snapshot returns the daily price history and latest market cap for coinID
func (c *Client) Snapshot(ctx context.Context, coinID string) (risk.Snapshot, error) {
	if coinID == "" {
		return risk.Snapshot{}, fmt.Errorf("%w: empty coin id", ErrUnknownAsset)
	}

	var lastErr error
	for i, ep := range c.endpoints {
		if err := c.limiter.Wait(ctx, ep.host); err != nil {
			return risk.Snapshot{}, fmt.Errorf("rate limiter wait: %w", err)
		}

		start := time.Now()
		res, err := ep.breaker.Execute(func() (any, error) {
			return c.fetch(ctx, ep.base, coinID)
		})
		c.observe(ep.host, err, time.Since(start))

		if err == nil {
			return res.(risk.Snapshot), nil
		}
		if errors.Is(err, ErrUnknownAsset) {
			return risk.Snapshot{}, err
		}
		if ctx.Err() != nil {
			return risk.Snapshot{}, ctx.Err()
		}

		lastErr = err
		log.Warn().Err(err).Str("endpoint", ep.host).Str("breaker", ep.breaker.Name()).Int("attempt", i+1).Str("coin", coinID).
			Msg("market data endpoint failed, trying next")
	}

	return risk.Snapshot{}, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, lastErr)
}

// Breakers returns endpoint -> circuit state
func (c *Client) Breakers() map[string]string {
	out := make(map[string]string, len(c.endpoints))
	for _, ep := range c.endpoints {
		out[ep.host] = ep.breaker.State()
	}
	return out
}

// RateLimits returns host -> tokens left in its bucket, for hosts contacted so far
func (c *Client) RateLimits() map[string]float64 {
	hosts := c.limiter.Hosts()
	out := make(map[string]float64, len(hosts))
	for _, h := range hosts {
		out[h] = c.limiter.Tokens(h)
	}
	return out
}

func (c *Client) observe(host string, err error, d time.Duration) {
	if c.observer == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case breakers.IsOpen(err):
		result = "circuit_open"
	case errors.Is(err, ErrUnknownAsset):
		result = "not_found"
	default:
		result = "error"
	}
	c.observer.ObserveProviderRequest(host, result, d)
}

type marketChart struct {
	Prices     [][2]float64 `json:"prices"`
	MarketCaps [][2]float64 `json:"market_caps"`
}

func (c *Client) fetch(ctx context.Context, base, coinID string) (risk.Snapshot, error) {
	q := url.Values{}
	q.Set("vs_currency", c.cfg.VsCurrency)
	q.Set("days", strconv.Itoa(c.cfg.Days))
	q.Set("interval", "daily")
	endpointURL := fmt.Sprintf("%s/coins/%s/market_chart?%s", base, url.PathEscape(coinID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("request %s: %w", base, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return risk.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownAsset, coinID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return risk.Snapshot{}, fmt.Errorf("%w: %s", ErrRateLimited, base)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return risk.Snapshot{}, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, base, strings.TrimSpace(string(body)))
	}

	var chart marketChart
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return risk.Snapshot{}, fmt.Errorf("decode market chart: %w", err)
	}
	return chart.toSnapshot(coinID)
}

func (m marketChart) toSnapshot(coinID string) (risk.Snapshot, error) {
	if len(m.Prices) == 0 {
		return risk.Snapshot{}, fmt.Errorf("%w: %s", ErrEmptyResponse, coinID)
	}

	prices := make([]float64, len(m.Prices))
	for i, p := range m.Prices {
		prices[i] = p[1]
	}

	var marketCap float64
	for i := len(m.MarketCaps) - 1; i >= 0; i-- {
		if m.MarketCaps[i][1] > 0 {
			marketCap = m.MarketCaps[i][1]
			break
		}
	}

	last := m.Prices[len(m.Prices)-1]
	return risk.Snapshot{
		Symbol:    coinID,
		MarketCap: marketCap,
		Prices:    prices,
		Timestamp: time.UnixMilli(int64(last[0])).UTC(),
	}, nil
}
