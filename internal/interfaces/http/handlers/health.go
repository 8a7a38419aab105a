package handlers

import (
	"net/http"
	"time"

	"github.com/sawpanic/stablerisk/internal/domain/pricefeed"
)

// Health handles GET /health. The service reports degraded when the database check
// fails, a provider breaker is open or a watched feed is stale.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Version:   h.deps.Version,
	}

	if h.deps.Breakers != nil {
		resp.Breakers = h.deps.Breakers()
		for _, state := range resp.Breakers {
			if state == "open" {
				resp.Status = "degraded"
			}
		}
	}

	if h.deps.RateLimits != nil {
		resp.RateLimits = h.deps.RateLimits()
	}

	if h.deps.Database != nil {
		hc := h.deps.Database.Health(r.Context())
		resp.Database = &hc
		if !hc.Healthy {
			resp.Status = "degraded"
		}
	}

	if h.deps.Feeds != nil {
		resp.Stale = staleCount(h.deps.Feeds.Feeds())
		if resp.Stale > 0 {
			resp.Status = "degraded"
		}
	}

	if h.deps.Stream != nil {
		resp.Streams = h.deps.Stream.Clients()
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Feeds handles GET /v1/feeds
func (h *Handlers) Feeds(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feeds == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "watcher_disabled", "no feeds are being watched")
		return
	}
	feeds := h.deps.Feeds.Feeds()
	h.writeJSON(w, http.StatusOK, FeedsResponse{
		Timestamp: h.now().UTC(),
		Stale:     staleCount(feeds),
		Feeds:     feeds,
	})
}

func staleCount(feeds []pricefeed.FeedStatus) int {
	n := 0
	for _, f := range feeds {
		if f.Stale {
			n++
		}
	}
	return n
}
