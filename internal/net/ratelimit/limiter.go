package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per upstream host so a slow fallback endpoint
// never consumes the primary's budget.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a per-host limiter with the given requests per second and burst
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) get(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[host] = lim
	}
	return lim
}

// Wait blocks until a request to host is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.get(host).Wait(ctx)
}

// Tokens returns the tokens currently available for host
func (l *Limiter) Tokens(host string) float64 {
	return l.get(host).Tokens()
}

// Hosts returns the hosts seen so far
func (l *Limiter) Hosts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	hosts := make([]string, 0, len(l.limiters))
	for h := range l.limiters {
		hosts = append(hosts, h)
	}
	return hosts
}

// HostOf extracts the limiter key from a URL; unparsable input is used verbatim
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
