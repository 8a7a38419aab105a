package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stablerisk/internal/application"
	"github.com/sawpanic/stablerisk/internal/domain/pricefeed"
	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/domain/volatility"
	"github.com/sawpanic/stablerisk/internal/persistence"
	"github.com/sawpanic/stablerisk/internal/providers/market"
)

// Assessor is the application surface the API serves
type Assessor interface {
	Assess(ctx context.Context, coinID string) (application.Result, error)
	ScoreInputs(vol, marketCap float64) (risk.Assessment, error)
	ScorePrices(prices []float64, marketCap float64) (risk.Assessment, error)
	History(ctx context.Context, coinID string, tr persistence.TimeRange, limit int) ([]persistence.ScoreRecord, error)
	Latest(ctx context.Context, coinID string) (*persistence.ScoreRecord, error)
}

// FeedSource reports watched feed state
type FeedSource interface {
	Feeds() []pricefeed.FeedStatus
}

// Deps are the collaborators behind the handlers. Only Service is required.
type Deps struct {
	Service    Assessor
	Feeds      FeedSource
	Database   persistence.RepositoryHealth
	Breakers   func() map[string]string
	RateLimits func() map[string]float64
	Stream     *Hub
	Version    string
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps    Deps
	started time.Time
	now     func() time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Handlers{deps: deps, started: time.Now(), now: time.Now}
}

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores a request id on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored on ctx, or "unknown"
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// writeJSON encodes data before writing the header; encode failures become a 500
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"error":%q,"code":"encode_failed","timestamp":%q}`+"\n",
			http.StatusText(http.StatusInternalServerError), h.now().UTC().Format(time.RFC3339Nano))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: h.now().UTC(),
	})
}

// writeFailure maps a service error onto a status code
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("request_id", RequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	h.writeError(w, r, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, risk.ErrInvalidMarketCap):
		return http.StatusUnprocessableEntity, "invalid_market_cap"
	case errors.Is(err, risk.ErrInvalidVolatility):
		return http.StatusUnprocessableEntity, "invalid_volatility"
	case errors.Is(err, volatility.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity, "insufficient_history"
	case errors.Is(err, volatility.ErrInvalidPrice):
		return http.StatusUnprocessableEntity, "invalid_price"
	case errors.Is(err, persistence.ErrInvalidTimeRange):
		return http.StatusBadRequest, "invalid_time_range"
	case errors.Is(err, market.ErrUnknownAsset):
		return http.StatusNotFound, "unknown_asset"
	case errors.Is(err, application.ErrHistoryDisabled):
		return http.StatusServiceUnavailable, "history_disabled"
	case errors.Is(err, application.ErrNoHistory):
		return http.StatusNotFound, "no_history"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
