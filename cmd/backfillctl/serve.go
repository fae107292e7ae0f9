package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/api"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/config"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/executor"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/index"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/jobstore"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/ratelimit"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/service"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/storage"
	"github.com/cuemby/toaststats-backfill/pkg/backfill/upstream"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backfill admin API and its background job executors",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithComponent("serve")
	logger.Info().Str("backend", string(cfg.Backend)).Str("adminAddr", cfg.AdminAddr).Msg("starting backfillctl")

	metrics.SetVersion(Version)

	jobs, err := jobstore.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()
	metrics.RegisterComponent("jobstore", true, "")

	store, err := newStorageProvider(cfg)
	if err != nil {
		return fmt.Errorf("build storage provider: %w", err)
	}
	metrics.RegisterComponent("storage", true, "")

	limiter := ratelimit.New(cfg.RateLimit)
	catalog := upstream.NewStaticCatalog(cfg.EntityIDs)

	svc := service.New(jobs, store, limiter, upstream.NoopFetcher{}, upstream.NoopComputer{}, catalog,
		executor.Config{
			MaxRetries: cfg.MaxRetries,
			RetryBase:  time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		})

	if err := svc.RecoverOnStartup(); err != nil {
		logger.Error().Err(err).Msg("recover_on_startup failed")
	}

	collector := metrics.NewCollector(jobs, store)
	collector.Start()
	defer collector.Stop()

	maintainer := index.New(store)
	adminAPI := api.New(svc, store, maintainer)
	metrics.RegisterComponent("api", true, "")

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.AdminAddr).Msg("admin API listening")
		if err := adminAPI.Serve(cfg.AdminAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin API server: %w", err)
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/health server listening")
		if err := serveHealth(cfg.MetricsAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
	return nil
}

func newStorageProvider(cfg config.Config) (storage.Provider, error) {
	switch cfg.Backend {
	case config.BackendCloud:
		return storage.NewCloudProvider("backfill-snapshots", "snapshots"), nil
	default:
		return storage.NewLocalProvider(cfg.DataDir)
	}
}

// serveHealth runs the liveness/readiness/Prometheus endpoints on their
// own port, separate from the admin API's traffic port.
func serveHealth(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}
