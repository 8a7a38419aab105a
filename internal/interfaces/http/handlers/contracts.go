package handlers

import (
	"time"

	"github.com/sawpanic/stablerisk/internal/domain/pricefeed"
	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/persistence"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreRequest is the body of POST /v1/score. Either Volatility or Prices must be set.
type ScoreRequest struct {
	Volatility *float64  `json:"volatility,omitempty"`
	MarketCap  float64   `json:"market_cap"`
	Prices     []float64 `json:"prices,omitempty"`
}

// ScoreResponse answers POST /v1/score
type ScoreResponse struct {
	risk.Assessment
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse answers GET /v1/history/{coin}
type HistoryResponse struct {
	Symbol  string                    `json:"symbol"`
	From    *time.Time                `json:"from,omitempty"`
	To      *time.Time                `json:"to,omitempty"`
	Count   int                       `json:"count"`
	Records []persistence.ScoreRecord `json:"records"`
}

// FeedsResponse answers GET /v1/feeds
type FeedsResponse struct {
	Timestamp time.Time              `json:"timestamp"`
	Stale     int                    `json:"stale"`
	Feeds     []pricefeed.FeedStatus `json:"feeds"`
}

// HealthResponse answers GET /health
type HealthResponse struct {
	Status     string                   `json:"status"` // "healthy" or "degraded"
	Timestamp  time.Time                `json:"timestamp"`
	Uptime     string                   `json:"uptime"`
	Version    string                   `json:"version"`
	Breakers   map[string]string        `json:"breakers,omitempty"`
	RateLimits map[string]float64       `json:"rate_limit_tokens,omitempty"`
	Database   *persistence.HealthCheck `json:"database,omitempty"`
	Stale      int                      `json:"stale_feeds"`
	Streams    int                      `json:"stream_clients"`
}
