package risk

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// MinScore and MaxScore bound every risk score
	MinScore = 50.0
	MaxScore = 150.0

	volatilityWeight = 0.4
	marketCapWeight  = 0.6
	scale            = 100.0
)

var (
	// ErrInvalidMarketCap is returned for zero, negative or non-finite market caps
	ErrInvalidMarketCap = errors.New("invalid market capitalization")
	// ErrInvalidVolatility is returned for negative or non-finite volatility figures
	ErrInvalidVolatility = errors.New("invalid volatility")
)

// Snapshot is the caller-supplied view of a stablecoin at a point in time
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	MarketCap float64   `json:"market_cap"`
	Prices    []float64 `json:"prices"` // daily closes, oldest first
	Timestamp time.Time `json:"timestamp"`
}

// VolatilityEstimator turns a price series into a non-negative volatility figure
type VolatilityEstimator interface {
	Estimate(prices []float64) (float64, error)
}

// Assessment carries a score together with the inputs that produced it
type Assessment struct {
	Volatility float64 `json:"volatility"`
	MarketCap  float64 `json:"market_cap"`
	RawScore   float64 `json:"raw_score"`
	Score      float64 `json:"score"`
	Clamped    bool    `json:"clamped"`
}

// Bound reports which limit a clamped assessment hit: "min", "max" or "" when unclamped
func (a Assessment) Bound() string {
	switch {
	case !a.Clamped:
		return ""
	case a.Score == MinScore:
		return "min"
	default:
		return "max"
	}
}

// Scorer computes bounded risk scores. It holds no mutable state and is safe for
// concurrent use as long as the estimator is.
type Scorer struct {
	estimator VolatilityEstimator
}

// NewScorer creates a scorer backed by the given volatility estimator
func NewScorer(estimator VolatilityEstimator) *Scorer {
	return &Scorer{estimator: estimator}
}

// Score returns the bounded risk score for a snapshot. Estimator errors are returned as-is.
func (s *Scorer) Score(snap Snapshot) (float64, error) {
	a, err := s.Assess(snap)
	if err != nil {
		return 0, err
	}
	return a.Score, nil
}

// Assess is Score with the intermediate figures attached
func (s *Scorer) Assess(snap Snapshot) (Assessment, error) {
	if err := ValidateMarketCap(snap.MarketCap); err != nil {
		return Assessment{}, err
	}

	vol, err := s.estimator.Estimate(snap.Prices)
	if err != nil {
		return Assessment{}, err
	}

	return Evaluate(vol, snap.MarketCap)
}

// Compute applies the scoring formula to a pre-computed volatility and market cap
func Compute(volatility, marketCap float64) (float64, error) {
	a, err := Evaluate(volatility, marketCap)
	if err != nil {
		return 0, err
	}
	return a.Score, nil
}

// Evaluate is Compute returning the raw score and clamp flag as well
func Evaluate(volatility, marketCap float64) (Assessment, error) {
	if err := ValidateMarketCap(marketCap); err != nil {
		return Assessment{}, err
	}
	if volatility < 0 || math.IsNaN(volatility) || math.IsInf(volatility, 0) {
		return Assessment{}, fmt.Errorf("%w: %v", ErrInvalidVolatility, volatility)
	}

	raw := (volatility*volatilityWeight + (1/marketCap)*marketCapWeight) * scale
	score := Clamp(raw, MinScore, MaxScore)
	// Tiny caps or huge volatility overflow; keep the reported raw score finite.
	if math.IsInf(raw, 1) {
		raw = math.MaxFloat64
	}

	return Assessment{
		Volatility: volatility,
		MarketCap:  marketCap,
		RawScore:   raw,
		Score:      score,
		Clamped:    score != raw,
	}, nil
}

// ValidateMarketCap rejects market caps the formula cannot divide by
func ValidateMarketCap(marketCap float64) error {
	switch {
	case marketCap == 0:
		return ErrInvalidMarketCap
	case marketCap < 0:
		return fmt.Errorf("%w: must be positive, got %v", ErrInvalidMarketCap, marketCap)
	case math.IsNaN(marketCap) || math.IsInf(marketCap, 0):
		return fmt.Errorf("%w: must be finite, got %v", ErrInvalidMarketCap, marketCap)
	}
	return nil
}

// Clamp saturates v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
