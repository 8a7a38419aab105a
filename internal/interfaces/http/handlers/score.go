package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/persistence"
)

// Score handles GET /v1/score/{coin}
func (h *Handlers) Score(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToLower(mux.Vars(r)["coin"])

	res, err := h.deps.Service.Assess(r.Context(), coin)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// ScoreInputs handles POST /v1/score
func (h *Handlers) ScoreInputs(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", fmt.Sprintf("malformed request body: %v", err))
		return
	}

	var (
		a   risk.Assessment
		err error
	)
	switch {
	case len(req.Prices) > 0:
		a, err = h.deps.Service.ScorePrices(req.Prices, req.MarketCap)
	case req.Volatility != nil:
		a, err = h.deps.Service.ScoreInputs(*req.Volatility, req.MarketCap)
	default:
		h.writeError(w, r, http.StatusBadRequest, "missing_volatility", "either volatility or prices is required")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ScoreResponse{Assessment: a, Timestamp: h.now().UTC()})
}

// History handles GET /v1/history/{coin}?from=&to=&limit=
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToLower(mux.Vars(r)["coin"])
	q := r.URL.Query()

	var tr persistence.TimeRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &tr.From}, {"to", &tr.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_"+p.name, fmt.Sprintf("%s must be RFC3339: %v", p.name, err))
			return
		}
		*p.dst = t.UTC()
	}
	if err := tr.Validate(); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > persistence.MaxListLimit {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be between 1 and %d", persistence.MaxListLimit))
			return
		}
		limit = n
	}

	records, err := h.deps.Service.History(r.Context(), coin, tr, limit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if records == nil {
		records = []persistence.ScoreRecord{}
	}

	resp := HistoryResponse{Symbol: coin, Count: len(records), Records: records}
	if !tr.From.IsZero() {
		resp.From = &tr.From
	}
	if !tr.To.IsZero() {
		resp.To = &tr.To
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Latest handles GET /v1/history/{coin}/latest
func (h *Handlers) Latest(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToLower(mux.Vars(r)["coin"])

	rec, err := h.deps.Service.Latest(r.Context(), coin)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}
