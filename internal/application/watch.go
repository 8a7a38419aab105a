package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/stablerisk/internal/domain/pricefeed"
	"github.com/sawpanic/stablerisk/internal/metrics"
)

// ErrAlreadyRunning is returned when Start is called on a running watcher
var ErrAlreadyRunning = errors.New("watcher already running")

// Watcher periodically re-assesses a fixed set of coins. Each new spot price is
// validated against the last accepted one; feeds failing StaleAfter times in a row
// are marked stale until the next accepted update.
type Watcher struct {
	svc      *Service
	coins    []string
	schedule string
	tracker  *pricefeed.Tracker
	metrics  *metrics.Registry

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	Coins           []string
	Schedule        string
	MaxDeviationBps int64
	StaleAfter      int
}

// NewWatcher builds a watcher over svc; m may be nil
func NewWatcher(svc *Service, cfg WatcherConfig, m *metrics.Registry) *Watcher {
	return &Watcher{
		svc:      svc,
		coins:    append([]string(nil), cfg.Coins...),
		schedule: cfg.Schedule,
		tracker:  pricefeed.NewTracker(cfg.StaleAfter, cfg.MaxDeviationBps),
		metrics:  m,
	}
}

// Start runs one pass immediately, then schedules further passes. Overlapping
// passes are skipped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}

	// The initial pass and scheduled passes share one skip guard.
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).
		Then(cron.FuncJob(func() { w.RunOnce(ctx) }))

	c := cron.New()
	if _, err := c.AddJob(w.schedule, job); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("invalid watch schedule %q: %w", w.schedule, err)
	}
	c.Start()
	w.cron = c
	w.running = true
	w.mu.Unlock()

	log.Info().Strs("coins", w.coins).Str("schedule", w.schedule).Msg("starting price watcher")
	job.Run()
	return nil
}

// Stop halts scheduling and waits for an in-flight pass to finish
func (w *Watcher) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Info().Msg("price watcher stopped")
}

// Running reports whether the watcher is scheduled
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce assesses every watched coin once
func (w *Watcher) RunOnce(ctx context.Context) {
	for _, coin := range w.coins {
		if ctx.Err() != nil {
			return
		}
		w.update(ctx, coin)
	}
	if w.metrics != nil {
		w.metrics.SetStaleFeeds(w.tracker.StaleCount())
	}
}

func (w *Watcher) update(ctx context.Context, coin string) {
	res, err := w.svc.Evaluate(ctx, coin, true)
	if err != nil {
		w.fail(coin, err)
		return
	}

	before, _ := w.tracker.Status(coin)
	if err := w.tracker.Observe(coin, decimal.NewFromFloat(res.Price)); err != nil {
		after, _ := w.tracker.Status(coin)
		log.Warn().Err(err).Str("coin", coin).Float64("price", res.Price).Msg("price update rejected")
		w.svc.Evict(ctx, coin)
		if after.Stale && !before.Stale {
			log.Error().Str("coin", coin).Int("failures", after.ConsecutiveFailures).Msg("feed marked stale")
		}
		return
	}

	w.svc.Commit(ctx, res)
}

func (w *Watcher) fail(coin string, err error) {
	log.Warn().Err(err).Str("coin", coin).Msg("price update failed")
	if w.tracker.Fail(coin, err) {
		st, _ := w.tracker.Status(coin)
		log.Error().Str("coin", coin).Int("failures", st.ConsecutiveFailures).Msg("feed marked stale")
	}
}

// Feeds returns the tracker state of every watched coin
func (w *Watcher) Feeds() []pricefeed.FeedStatus {
	out := make([]pricefeed.FeedStatus, 0, len(w.coins))
	for _, coin := range w.coins {
		st, _ := w.tracker.Status(coin)
		out = append(out, st)
	}
	return out
}
