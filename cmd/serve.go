package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/poolgate/config"
	"github.com/angeloszaimis/poolgate/internal/httpserver"
	"github.com/angeloszaimis/poolgate/internal/store"
)

const collectorDrainTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the OpenAI-compatible gateway.

Serves /v1/chat/completions, /v1/models and /health, the admin API under
/api/admin and, when enabled, Prometheus metrics. Stops gracefully on SIGINT
or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return serve(ctx, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve runs the gateway until ctx is done or the listener fails.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Failed to close resources", slog.Any("err", err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.collector.Start(ctx)

	if watcher, ok := a.store.(store.Watcher); ok {
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				log.Error("Account store watcher stopped", slog.Any("err", err))
			}
		}()
	}

	if cfg.HealthCheck.Enabled {
		if err := a.prober.Start(ctx); err != nil {
			return err
		}
	}

	srv, err := httpserver.New(cfg.Server.Address, a.router(),
		httpserver.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))
	if err != nil {
		return err
	}

	log.Info("Starting gateway",
		slog.String("address", cfg.Server.Address),
		slog.String("strategy", cfg.Strategy.Type),
		slog.String("store", cfg.Store.Driver),
		slog.String("upstream", a.client.BaseURL()),
		slog.Int("max_retries", cfg.Pool.MaxRetries))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			return err
		}
	}

	cancel()
	a.prober.Stop()

	select {
	case <-a.collector.Done():
	case <-time.After(collectorDrainTimeout):
		log.Warn("Metrics collector did not drain in time")
	}

	return nil
}
