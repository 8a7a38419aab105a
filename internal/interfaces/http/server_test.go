package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stablerisk/internal/application"
	"github.com/sawpanic/stablerisk/internal/config"
	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/interfaces/http/handlers"
	"github.com/sawpanic/stablerisk/internal/metrics"
	"github.com/sawpanic/stablerisk/internal/persistence"
)

type staticService struct{}

func (staticService) Assess(_ context.Context, coinID string) (application.Result, error) {
	return application.Result{
		Symbol:     coinID,
		Timestamp:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Price:      1,
		Assessment: risk.Assessment{Score: 50, Clamped: true},
	}, nil
}

func (staticService) ScoreInputs(vol, marketCap float64) (risk.Assessment, error) {
	return risk.Evaluate(vol, marketCap)
}

func (staticService) ScorePrices([]float64, float64) (risk.Assessment, error) {
	return risk.Assessment{}, nil
}

func (staticService) History(context.Context, string, persistence.TimeRange, int) ([]persistence.ScoreRecord, error) {
	return nil, application.ErrHistoryDisabled
}

func (staticService) Latest(context.Context, string) (*persistence.ScoreRecord, error) {
	return nil, application.ErrHistoryDisabled
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := metrics.NewRegistry()
	reg.RecordAssessment("dai", risk.Assessment{Score: 50})

	srv := NewServer(ServerConfigFrom(config.Default().Server), handlers.Deps{Service: staticService{}}, reg.Handler())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestServerConfigFrom(t *testing.T) {
	cfg := ServerConfigFrom(config.ServerConfig{Host: "0.0.0.0", Port: 9090, ReadTimeoutSecs: 5, WriteTimeoutSecs: 20})
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)

	srv := NewServer(cfg, handlers.Deps{Service: staticService{}}, nil)
	assert.Equal(t, "0.0.0.0:9090", srv.Address())
}

func TestServer_RequestID(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get("X-Request-ID"), 8)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/history/dai", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-42")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()

	assert.Equal(t, "trace-42", resp2.Header.Get("X-Request-ID"))
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, "trace-42", body.RequestID)
}

func TestServer_Routes(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/score/dai")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/score", "application/json", strings.NewReader(`{"volatility":4,"market_cap":1}`))
	require.NoError(t, err)
	var scored handlers.ScoreResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scored))
	resp.Body.Close()
	assert.Equal(t, 150.0, scored.Score)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `stablerisk_score{symbol="dai"} 50`)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/score", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/v1/history/dai/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v2/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Stream(t *testing.T) {
	srv, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scores"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return srv.Stream().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Stream().Publish(application.Result{
		Symbol:     "tether",
		Price:      1.0001,
		Assessment: risk.Assessment{Score: 62.5, RawScore: 62.5},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got application.Result
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "tether", got.Symbol)
	assert.Equal(t, 62.5, got.Score)

	srv.Stream().Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, srv.Stream().Clients())
}

func TestServer_StreamRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scores"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
