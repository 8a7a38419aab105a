package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTimeRange is returned when From is after To
var ErrInvalidTimeRange = errors.New("invalid time range")

// MaxListLimit bounds a single history query
const MaxListLimit = 500

// TimeRange represents a closed time window for history queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Validate rejects inverted ranges; zero bounds are allowed
func (tr TimeRange) Validate() error {
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.From.After(tr.To) {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidTimeRange, tr.From, tr.To)
	}
	return nil
}

// ScoreRecord is one persisted risk assessment
type ScoreRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Timestamp  time.Time `json:"ts" db:"ts"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Volatility float64   `json:"volatility" db:"volatility"`
	MarketCap  float64   `json:"market_cap" db:"market_cap"`
	RawScore   float64   `json:"raw_score" db:"raw_score"`
	Score      float64   `json:"score" db:"score"`
	Clamped    bool      `json:"clamped" db:"clamped"`
	Source     string    `json:"source" db:"source"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ScoreRepo persists risk score history
type ScoreRepo interface {
	// Insert stores a record; a nil ID is replaced with a fresh one
	Insert(ctx context.Context, rec *ScoreRecord) error

	// Latest returns the newest record for symbol, or nil when none exists
	Latest(ctx context.Context, symbol string) (*ScoreRecord, error)

	// ListBySymbol returns records for symbol within the range, newest first.
	// A limit outside 1..MaxListLimit means MaxListLimit.
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]ScoreRecord, error)
}

// Repository aggregates the persistence interfaces
type Repository struct {
	Scores ScoreRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
