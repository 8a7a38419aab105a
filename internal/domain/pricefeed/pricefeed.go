package pricefeed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxDeviationBps rejects price updates moving more than 10%
	DefaultMaxDeviationBps int64 = 1000
	// DefaultStaleAfter consecutive failures mark a feed stale
	DefaultStaleAfter = 3
)

var (
	// ErrDeviationTooHigh is returned when a new price moves too far from the previous one
	ErrDeviationTooHigh = errors.New("price deviation too high")
	// ErrNonPositivePrice is returned for zero or negative feed prices
	ErrNonPositivePrice = errors.New("price must be positive")
)

var bpsScale = decimal.NewFromInt(10000)

// Deviation returns |new-old|/old in basis points, truncated. A zero old price yields 0.
func Deviation(oldPrice, newPrice decimal.Decimal) int64 {
	if oldPrice.IsZero() {
		return 0
	}
	return newPrice.Sub(oldPrice).Mul(bpsScale).Div(oldPrice).Abs().IntPart()
}

// Validate accepts newPrice unless it deviates from oldPrice by more than maxBps.
// The first update (zero old price) is always accepted.
func Validate(oldPrice, newPrice decimal.Decimal, maxBps int64) error {
	if !newPrice.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositivePrice, newPrice)
	}
	if oldPrice.IsZero() {
		return nil
	}
	if dev := Deviation(oldPrice, newPrice); dev > maxBps {
		return fmt.Errorf("%w: %d bps exceeds %d bps (%s -> %s)", ErrDeviationTooHigh, dev, maxBps, oldPrice, newPrice)
	}
	return nil
}

// FeedStatus is the tracker's view of a single symbol
type FeedStatus struct {
	Symbol              string          `json:"symbol"`
	LastPrice           decimal.Decimal `json:"last_price"`
	LastUpdate          time.Time       `json:"last_update"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	Stale               bool            `json:"stale"`
	LastError           string          `json:"last_error,omitempty"`
}

// Tracker keeps last-good prices and failure streaks per symbol
type Tracker struct {
	mu         sync.Mutex
	staleAfter int
	maxBps     int64
	feeds      map[string]*FeedStatus
	now        func() time.Time
}

// NewTracker creates a tracker; non-positive arguments fall back to the defaults
func NewTracker(staleAfter int, maxBps int64) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if maxBps <= 0 {
		maxBps = DefaultMaxDeviationBps
	}
	return &Tracker{
		staleAfter: staleAfter,
		maxBps:     maxBps,
		feeds:      make(map[string]*FeedStatus),
		now:        time.Now,
	}
}

func (t *Tracker) feed(symbol string) *FeedStatus {
	f, ok := t.feeds[symbol]
	if !ok {
		f = &FeedStatus{Symbol: symbol}
		t.feeds[symbol] = f
	}
	return f
}

// Observe validates a new price against the last accepted one. Accepted prices reset
// the failure streak; rejected prices count as failures.
func (t *Tracker) Observe(symbol string, price decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.feed(symbol)
	if err := Validate(f.LastPrice, price, t.maxBps); err != nil {
		t.failLocked(f, err)
		return err
	}

	f.LastPrice = price
	f.LastUpdate = t.now()
	f.ConsecutiveFailures = 0
	f.Stale = false
	f.LastError = ""
	return nil
}

// Fail records a failed update. It reports true when this failure made the feed stale.
func (t *Tracker) Fail(symbol string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.feed(symbol)
	wasStale := f.Stale
	t.failLocked(f, err)
	return f.Stale && !wasStale
}

func (t *Tracker) failLocked(f *FeedStatus, err error) {
	f.ConsecutiveFailures++
	if err != nil {
		f.LastError = err.Error()
	}
	if f.ConsecutiveFailures >= t.staleAfter {
		f.Stale = true
	}
}

// Status returns a copy of the symbol's feed state
func (t *Tracker) Status(symbol string) (FeedStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.feeds[symbol]
	if !ok {
		return FeedStatus{Symbol: symbol}, false
	}
	return *f, true
}

// StaleCount returns how many tracked feeds are currently stale
func (t *Tracker) StaleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, f := range t.feeds {
		if f.Stale {
			n++
		}
	}
	return n
}
