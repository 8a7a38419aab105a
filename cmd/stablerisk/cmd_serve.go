package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stablerisk/internal/application"
	httpapi "github.com/sawpanic/stablerisk/internal/interfaces/http"
	"github.com/sawpanic/stablerisk/internal/interfaces/http/handlers"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serves /health, /metrics, /v1/score, /v1/history and the /ws/scores stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, false)
		},
	}
	addServerFlags(cmd)
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically re-score watched coins and serve the HTTP API",
		Long: `Re-assesses every coin in watch.coins on watch.schedule. Spot prices moving more
than watch.max_deviation_bps from the last accepted value are rejected, and a feed
failing watch.stale_after times in a row is reported stale on /health and /v1/feeds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, true)
		},
	}
	addServerFlags(cmd)
	cmd.Flags().StringSlice("coins", nil, "Override watch.coins")
	cmd.Flags().String("schedule", "", "Override watch.schedule (cron spec)")
	return cmd
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "Override server.host")
	cmd.Flags().Int("port", 0, "Override server.port")
}

func runServer(cmd *cobra.Command, watch bool) error {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if watch {
		if cmd.Flags().Changed("coins") {
			cfg.Watch.Coins, _ = cmd.Flags().GetStringSlice("coins")
		}
		if cmd.Flags().Changed("schedule") {
			cfg.Watch.Schedule, _ = cmd.Flags().GetString("schedule")
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	hub := handlers.NewHub()
	rt.service.Subscribe(hub.Publish)

	deps := handlers.Deps{
		Service:    rt.service,
		Breakers:   rt.market.Breakers,
		RateLimits: rt.market.RateLimits,
		Stream:     hub,
		Version:    version,
	}
	if rt.db.IsEnabled() {
		deps.Database = rt.db.Health()
	}

	var watcher *application.Watcher
	if watch {
		watcher = application.NewWatcher(rt.service, application.WatcherConfig{
			Coins:           cfg.Watch.Coins,
			Schedule:        cfg.Watch.Schedule,
			MaxDeviationBps: cfg.Watch.MaxDeviationBps,
			StaleAfter:      cfg.Watch.StaleAfter,
		}, rt.metrics)
		deps.Feeds = watcher
	}

	server := httpapi.NewServer(httpapi.ServerConfigFrom(cfg.Server), deps, rt.metrics.Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			shutdown(server)
			return err
		}
		defer watcher.Stop()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	}

	shutdown(server)
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdown(server *httpapi.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}
