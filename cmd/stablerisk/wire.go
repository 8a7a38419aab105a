package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stablerisk/internal/application"
	"github.com/sawpanic/stablerisk/internal/config"
	"github.com/sawpanic/stablerisk/internal/data/cache"
	"github.com/sawpanic/stablerisk/internal/domain/risk"
	"github.com/sawpanic/stablerisk/internal/domain/volatility"
	"github.com/sawpanic/stablerisk/internal/infrastructure/db"
	"github.com/sawpanic/stablerisk/internal/metrics"
	"github.com/sawpanic/stablerisk/internal/providers/market"
)

// runtime holds the live collaborators shared by assess, serve and watch
type runtime struct {
	service *application.Service
	market  *market.Client
	metrics *metrics.Registry
	db      *db.Manager
	closers []func() error
}

func newScorer(c config.ScoringConfig) *risk.Scorer {
	return risk.NewScorer(&volatility.Historical{
		Window:            c.Window,
		LogReturns:        c.LogReturns,
		AnnualizationDays: c.AnnualizationDays,
	})
}

func buildRuntime(ctx context.Context, c *config.Config) (*runtime, error) {
	rt := &runtime{metrics: metrics.NewRegistry()}

	client, err := market.NewClient(c.Provider, market.WithObserver(rt.metrics))
	if err != nil {
		return nil, err
	}
	rt.market = client

	snapshots, closeCache, err := cache.NewAuto(ctx, c.Cache.RedisAddr, c.Cache.RedisDB, c.Cache.Prefix)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	rt.closers = append(rt.closers, closeCache)

	manager, err := db.NewManager(ctx, c.Database)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("database: %w", err)
	}
	rt.db = manager
	rt.closers = append(rt.closers, manager.Close)

	opts := []application.Option{
		application.WithCache(snapshots, c.Cache.CacheTTL()),
		application.WithMetrics(rt.metrics),
	}
	if repo := manager.Repository(); repo != nil {
		opts = append(opts, application.WithRepository(repo.Scores))
	}
	rt.service = application.NewService(client, newScorer(c.Scoring), opts...)

	log.Debug().
		Bool("redis", c.Cache.RedisAddr != "").
		Bool("database", manager.IsEnabled()).
		Strs("providers", c.Provider.BaseURLs).
		Msg("runtime ready")
	return rt, nil
}

// Close releases resources in reverse order of acquisition
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	rt.closers = nil
}
