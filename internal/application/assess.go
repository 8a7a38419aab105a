package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stablerisk/internal/data/cache"
	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/domain/volatility"
	"github.com/sawpanic/stablerisk/internal/metrics"
	"github.com/sawpanic/stablerisk/internal/persistence"
	"github.com/sawpanic/stablerisk/internal/providers/market"
)

var (
	// ErrHistoryDisabled is returned by History and Latest when no score repository is configured
	ErrHistoryDisabled = errors.New("score history persistence disabled")
	// ErrNoHistory is returned by Latest when nothing was persisted for the coin
	ErrNoHistory = errors.New("no persisted score")
)

// SnapshotSource supplies live snapshots for a coin id
type SnapshotSource interface {
	Snapshot(ctx context.Context, coinID string) (risk.Snapshot, error)
}

// Result is one scored snapshot
type Result struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Cached    bool      `json:"cached"`
	risk.Assessment
}

// Service runs the fetch, score, persist and publish pipeline
type Service struct {
	source     SnapshotSource
	sourceName string
	scorer     *risk.Scorer
	cache      cache.Cache
	cacheTTL   time.Duration
	repo       persistence.ScoreRepo
	metrics    *metrics.Registry
	now        func() time.Time

	mu        sync.RWMutex
	listeners []func(Result)
}

// Option configures a Service
type Option func(*Service)

// WithCache enables snapshot caching for ttl
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithRepository persists every committed result
func WithRepository(repo persistence.ScoreRepo) Option {
	return func(s *Service) { s.repo = repo }
}

// WithMetrics records assessments in the registry
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSourceName labels persisted records
func WithSourceName(name string) Option {
	return func(s *Service) { s.sourceName = name }
}

// NewService wires a service around a snapshot source and a scorer
func NewService(source SnapshotSource, scorer *risk.Scorer, opts ...Option) *Service {
	s := &Service{
		source:     source,
		sourceName: "coingecko",
		scorer:     scorer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to receive every committed result
func (s *Service) Subscribe(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Assess scores coinID, reusing a cached snapshot when available, then commits the result
func (s *Service) Assess(ctx context.Context, coinID string) (Result, error) {
	res, err := s.Evaluate(ctx, coinID, false)
	if err != nil {
		return Result{}, err
	}
	s.Commit(ctx, res)
	return res, nil
}

// Evaluate fetches and scores coinID without side effects beyond the snapshot cache.
// fresh skips the cache read.
func (s *Service) Evaluate(ctx context.Context, coinID string, fresh bool) (Result, error) {
	snap, cached, err := s.snapshot(ctx, coinID, fresh)
	if err != nil {
		s.recordFailure(coinID, err)
		return Result{}, fmt.Errorf("fetch %s: %w", coinID, err)
	}

	a, err := s.scorer.Assess(snap)
	if err != nil {
		s.recordFailure(coinID, err)
		return Result{}, fmt.Errorf("score %s: %w", coinID, err)
	}

	res := Result{
		Symbol:     coinID,
		Timestamp:  snap.Timestamp,
		Source:     s.sourceName,
		Cached:     cached,
		Assessment: a,
	}
	if n := len(snap.Prices); n > 0 {
		res.Price = snap.Prices[n-1]
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = s.now().UTC()
	}
	return res, nil
}

// Commit persists, records and publishes a result. Persistence failures are logged only.
func (s *Service) Commit(ctx context.Context, res Result) {
	if s.repo != nil {
		rec := &persistence.ScoreRecord{
			Timestamp:  res.Timestamp,
			Symbol:     res.Symbol,
			Volatility: res.Volatility,
			MarketCap:  res.MarketCap,
			RawScore:   res.RawScore,
			Score:      res.Score,
			Clamped:    res.Clamped,
			Source:     res.Source,
		}
		if err := s.repo.Insert(ctx, rec); err != nil {
			log.Warn().Err(err).Str("symbol", res.Symbol).Msg("failed to persist risk score")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordAssessment(res.Symbol, res.Assessment)
	}

	log.Info().
		Str("symbol", res.Symbol).
		Float64("score", res.Score).
		Float64("raw_score", res.RawScore).
		Float64("volatility", res.Volatility).
		Float64("market_cap", res.MarketCap).
		Bool("cached", res.Cached).
		Msg("risk assessed")

	s.mu.RLock()
	listeners := append([]func(Result){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(res)
	}
}

// ScoreInputs scores a pre-computed volatility and market cap
func (s *Service) ScoreInputs(vol, marketCap float64) (risk.Assessment, error) {
	return risk.Evaluate(vol, marketCap)
}

// ScorePrices scores a caller-supplied price series and market cap
func (s *Service) ScorePrices(prices []float64, marketCap float64) (risk.Assessment, error) {
	return s.scorer.Assess(risk.Snapshot{MarketCap: marketCap, Prices: prices})
}

// History returns persisted results for coinID, newest first
func (s *Service) History(ctx context.Context, coinID string, tr persistence.TimeRange, limit int) ([]persistence.ScoreRecord, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.ListBySymbol(ctx, coinID, tr, limit)
}

// Latest returns the newest persisted result for coinID
func (s *Service) Latest(ctx context.Context, coinID string) (*persistence.ScoreRecord, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	rec, err := s.repo.Latest(ctx, coinID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", coinID, ErrNoHistory)
	}
	return rec, nil
}

// Evict drops the cached snapshot for coinID so the next Assess refetches it
func (s *Service) Evict(ctx context.Context, coinID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, snapshotKey(coinID)); err != nil {
		log.Warn().Err(err).Str("coin", coinID).Msg("snapshot cache evict failed")
	}
}

func snapshotKey(coinID string) string { return "snapshot:" + coinID }

func (s *Service) snapshot(ctx context.Context, coinID string, fresh bool) (risk.Snapshot, bool, error) {
	key := snapshotKey(coinID)

	if s.cache != nil && !fresh {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.recordCache("error")
			log.Warn().Err(err).Str("key", key).Msg("snapshot cache read failed")
		case ok:
			var snap risk.Snapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				s.recordCache("hit")
				return snap, true, nil
			}
			s.recordCache("error")
		default:
			s.recordCache("miss")
		}
	}

	snap, err := s.source.Snapshot(ctx, coinID)
	if err != nil {
		return risk.Snapshot{}, false, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("snapshot cache write failed")
			}
		}
	}
	return snap, false, nil
}

func (s *Service) recordCache(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCache(outcome)
	}
}

func (s *Service) recordFailure(coinID string, err error) {
	if s.metrics != nil {
		s.metrics.RecordFailure(coinID, FailureReason(err))
	}
}

// FailureReason maps an assessment error to a short metric label
func FailureReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrInvalidMarketCap):
		return "invalid_market_cap"
	case errors.Is(err, risk.ErrInvalidVolatility):
		return "invalid_volatility"
	case errors.Is(err, volatility.ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, volatility.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, market.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "provider_error"
	}
}
