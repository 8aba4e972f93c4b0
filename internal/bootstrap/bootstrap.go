// Package bootstrap wires the scheduling service from configuration for the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
	"github.com/hackgods/resource-scheduling-engine/internal/config"
	"github.com/hackgods/resource-scheduling-engine/internal/db"
	"github.com/hackgods/resource-scheduling-engine/internal/notify"
	redisclient "github.com/hackgods/resource-scheduling-engine/internal/redis"
)

func NewLogger(cfg config.Config, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", service).Logger()
}

// Deps holds the live collaborators behind a Service. PgPool and Redis are nil when the
// corresponding backend is not configured.
type Deps struct {
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Repo    appointment.Repository
	Locker  redisclient.Locker
	Sink    appointment.NotificationSink
	Service *appointment.Service

	closers []func()
}

func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Deps, error) {
	d := &Deps{}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.PgPool = pool
		d.closers = append(d.closers, pool.Close)
		d.Repo = appointment.NewPgRepository(pool)
		logger.Info().Msg("connected to postgres")
	default:
		d.Repo = appointment.NewMemoryRepository()
		logger.Warn().Msg("using in-memory store; records are lost on restart")
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.Redis = rdb
		d.closers = append(d.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		d.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		d.Locker = redisclient.NewLocalLocker(cfg.LockWait)
		logger.Warn().Msg("REDIS_ADDR not set; booking locks are process-local")
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		d.Sink = sink
		d.closers = append(d.closers, func() {
			if err := sink.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing kafka writer")
			}
		})
	} else {
		d.Sink = notify.NewLogSink(logger)
	}

	d.Service = appointment.NewService(d.Repo, d.Locker, d.Sink, cfg, appointment.WithLogger(logger))
	return d, nil
}

// Close releases connections in reverse order of acquisition.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
