package volatility

import (
	"errors"
	"fmt"
	"math"
)

// DefaultWindow is the trailing number of daily prices used by the estimator
const DefaultWindow = 30

var (
	// ErrInsufficientHistory is returned when fewer prices than the window are supplied
	ErrInsufficientHistory = errors.New("insufficient price history")
	// ErrInvalidPrice is returned for non-positive or non-finite prices inside the window
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidWindow is returned when the estimator is configured with fewer than 2 prices
	ErrInvalidWindow = errors.New("volatility window must cover at least 2 prices")
)

// Historical estimates volatility as the sample standard deviation of daily returns
// over the trailing Window prices.
type Historical struct {
	Window int

	// LogReturns uses ln(p[i]/p[i-1]) instead of simple returns
	LogReturns bool

	// AnnualizationDays scales the daily figure by sqrt(days) when non-zero
	AnnualizationDays int
}

// NewHistorical returns the default 30-day simple-return estimator
func NewHistorical() *Historical {
	return &Historical{Window: DefaultWindow}
}

// Estimate implements risk.VolatilityEstimator
func (h *Historical) Estimate(prices []float64) (float64, error) {
	window := h.Window
	if window < 2 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidWindow, window)
	}
	if len(prices) < window {
		return 0, fmt.Errorf("%w: need %d prices, have %d", ErrInsufficientHistory, window, len(prices))
	}

	tail := prices[len(prices)-window:]
	for i, p := range tail {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("%w: %v at position %d", ErrInvalidPrice, p, len(prices)-window+i)
		}
	}

	returns := Returns(tail, h.LogReturns)
	vol := StdDev(returns)

	if h.AnnualizationDays > 0 {
		vol *= math.Sqrt(float64(h.AnnualizationDays))
	}
	return vol, nil
}

// Returns computes period-over-period returns for a strictly positive price series
func Returns(prices []float64, logReturns bool) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		ratio := prices[i] / prices[i-1]
		if logReturns {
			out[i-1] = math.Log(ratio)
		} else {
			out[i-1] = ratio - 1
		}
	}
	return out
}

// StdDev is the sample standard deviation (n-1 denominator); zero for fewer than 2 values
func StdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}
