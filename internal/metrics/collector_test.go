package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stablerisk/internal/domain/risk"
)

func family(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func TestRegistry_RecordAssessment(t *testing.T) {
	r := NewRegistry()

	r.RecordAssessment("usd-coin", risk.Assessment{Volatility: 0.0004, Score: 50, RawScore: 0.02, Clamped: true})
	r.RecordAssessment("dai", risk.Assessment{Volatility: 2.0, Score: 80, RawScore: 80})

	assert.Equal(t, 50.0, testutil.ToFloat64(r.Score.WithLabelValues("usd-coin")))
	assert.Equal(t, 80.0, testutil.ToFloat64(r.Score.WithLabelValues("dai")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Assessments.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Clamped.WithLabelValues("min")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.Clamped.WithLabelValues("max")))

	f := family(t, r, "stablerisk_score")
	assert.Equal(t, dto.MetricType_GAUGE, f.GetType())
	assert.Len(t, f.GetMetric(), 2)
}

func TestRegistry_FailuresCacheAndStale(t *testing.T) {
	r := NewRegistry()

	r.RecordFailure("tether", "invalid_market_cap")
	r.RecordCache("hit")
	r.RecordCache("miss")
	r.RecordCache("miss")
	r.SetStaleFeeds(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Assessments.WithLabelValues("invalid_market_cap")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.StaleFeeds))
}

func TestRegistry_ProviderLatency(t *testing.T) {
	r := NewRegistry()
	r.ObserveProviderRequest("api.coingecko.com", "ok", 120*time.Millisecond)
	r.ObserveProviderRequest("api.coingecko.com", "ok", 300*time.Millisecond)

	f := family(t, r, "stablerisk_provider_request_seconds")
	require.Len(t, f.GetMetric(), 1)
	h := f.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 0.42, h.GetSampleSum(), 1e-9)
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RecordAssessment("usd-coin", risk.Assessment{Score: 50})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stablerisk_score{symbol="usd-coin"} 50`)
	assert.Contains(t, string(body), "go_goroutines")
}
