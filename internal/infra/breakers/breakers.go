package breakers

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// Settings tune a breaker; zero values fall back to the defaults
type Settings struct {
	ConsecutiveFailures uint32
	HalfOpenRequests    uint32
	Interval            time.Duration
	Timeout             time.Duration

	// IsSuccessful lets callers keep expected errors (e.g. not found) from counting as failures
	IsSuccessful func(err error) bool
}

// Breaker wraps a gobreaker circuit that trips on consecutive failures or on a
// failure ratio above 5% once 20 requests have been seen
type Breaker struct {
	name string
	cb   *cb.CircuitBreaker
}

// NewWithSettings builds a named breaker; state changes are logged at warn
func NewWithSettings(name string, s Settings) *Breaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 3
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 60 * time.Second
	}

	st := cb.Settings{Name: name}
	st.MaxRequests = s.HalfOpenRequests
	st.Interval = s.Interval
	st.Timeout = s.Timeout
	st.IsSuccessful = s.IsSuccessful
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= s.ConsecutiveFailures {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
	}
	return &Breaker{name: name, cb: cb.NewCircuitBreaker(st)}
}

// Name returns the name the breaker was built with
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the circuit is open
func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State returns "closed", "half-open" or "open"
func (b *Breaker) State() string { return b.cb.State().String() }

// IsOpen reports whether err came from a breaker refusing the call
func IsOpen(err error) bool {
	return errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests)
}
