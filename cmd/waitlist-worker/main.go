package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
	"github.com/hackgods/resource-scheduling-engine/internal/bootstrap"
	"github.com/hackgods/resource-scheduling-engine/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := bootstrap.NewLogger(config.Config{}, "waitlist-worker")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := bootstrap.NewLogger(cfg, "waitlist-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("waitlist-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dependency setup error")
	}
	defer deps.Close()

	matcher := deps.Service.Waitlist()

	// Run once at startup
	runOnce(rootCtx, matcher, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping waitlist worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, matcher, logger)
		}
	}
}

func runOnce(ctx context.Context, m *appointment.WaitlistMatcher, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := m.Expire(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("waitlist expiry failed")
		return
	}
	matches, err := m.Rematch(runCtx)
	if err != nil {
		logger.Error().Err(err).Int("matched", len(matches)).Msg("waitlist rematch failed")
		return
	}
	logger.Info().
		Int("expired", expired).
		Int("matched", len(matches)).
		Dur("took", time.Since(start)).
		Msg("waitlist run complete")
}
