package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/resource-scheduling-engine/internal/api"
	"github.com/hackgods/resource-scheduling-engine/internal/bootstrap"
	"github.com/hackgods/resource-scheduling-engine/internal/config"
	"github.com/hackgods/resource-scheduling-engine/internal/db"
	"github.com/hackgods/resource-scheduling-engine/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := bootstrap.NewLogger(config.Config{}, "api-server")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := bootstrap.NewLogger(cfg, "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("store", cfg.StoreBackend).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "scheduling-api",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  1,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry setup error")
	}

	deps, err := bootstrap.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dependency setup error")
	}
	defer deps.Close()

	if deps.PgPool != nil {
		if err := db.Migrate(rootCtx, deps.PgPool); err != nil {
			logger.Fatal().Err(err).Msg("schema migration error")
		}
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: deps.Service,
			PgPool:  deps.PgPool,
			Redis:   deps.Redis,
			Logger:  logger,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown error")
	}
	logger.Info().Msg("api-server stopped")
}
