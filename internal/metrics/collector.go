package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stablerisk/internal/domain/risk"
)

// Registry holds all Prometheus metrics for stablerisk on a private registry
type Registry struct {
	reg *prometheus.Registry

	Score           *prometheus.GaugeVec
	Volatility      *prometheus.GaugeVec
	Assessments     *prometheus.CounterVec
	Clamped         *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	StaleFeeds      prometheus.Gauge
}

// NewRegistry creates and registers the stablerisk metrics
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Score: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stablerisk_score",
				Help: "Latest bounded risk score (50 to 150) by symbol",
			},
			[]string{"symbol"},
		),

		Volatility: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stablerisk_volatility",
				Help: "Latest historical volatility input by symbol",
			},
			[]string{"symbol"},
		),

		Assessments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stablerisk_assessments_total",
				Help: "Total number of risk assessments by result",
			},
			[]string{"result"},
		),

		Clamped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stablerisk_clamped_total",
				Help: "Assessments whose raw score was clamped, by bound",
			},
			[]string{"bound"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stablerisk_provider_request_seconds",
				Help:    "Market data provider request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "result"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stablerisk_cache_lookups_total",
				Help: "Snapshot cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		StaleFeeds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stablerisk_stale_feeds",
				Help: "Number of watched feeds currently marked stale",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Score,
		r.Volatility,
		r.Assessments,
		r.Clamped,
		r.ProviderLatency,
		r.CacheLookups,
		r.StaleFeeds,
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordAssessment records a successful assessment
func (r *Registry) RecordAssessment(symbol string, a risk.Assessment) {
	r.Score.WithLabelValues(symbol).Set(a.Score)
	r.Volatility.WithLabelValues(symbol).Set(a.Volatility)
	r.Assessments.WithLabelValues("ok").Inc()
	if bound := a.Bound(); bound != "" {
		r.Clamped.WithLabelValues(bound).Inc()
	}
}

// RecordFailure records a failed assessment with a short reason label
func (r *Registry) RecordFailure(symbol, reason string) {
	r.Assessments.WithLabelValues(reason).Inc()
	log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("assessment failed")
}

// RecordCache records a snapshot cache hit, miss or error
func (r *Registry) RecordCache(outcome string) {
	r.CacheLookups.WithLabelValues(outcome).Inc()
}

// SetStaleFeeds sets the stale feed gauge
func (r *Registry) SetStaleFeeds(n int) {
	r.StaleFeeds.Set(float64(n))
}

// ObserveProviderRequest implements market.Observer
func (r *Registry) ObserveProviderRequest(endpoint, result string, d time.Duration) {
	r.ProviderLatency.WithLabelValues(endpoint, result).Observe(d.Seconds())
}
