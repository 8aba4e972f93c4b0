package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc))
		r.Get("/", listAppointmentsHandler(svc))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Patch("/{id}/reschedule", rescheduleAppointmentHandler(svc))
		r.Patch("/{id}/cancel", cancelAppointmentHandler(svc))
		r.Post("/{id}/confirm", transitionHandler(svc.Confirm))
		r.Post("/{id}/check-in", transitionHandler(svc.CheckIn))
		r.Post("/{id}/start", transitionHandler(svc.Start))
		r.Post("/{id}/complete", transitionHandler(svc.Complete))
		r.Post("/{id}/no-show", transitionHandler(svc.MarkNoShow))
	})

	r.Get("/slots", findSlotsHandler(svc))

	r.Put("/resources/{id}/schedules/{date}", putScheduleHandler(svc))
	r.Get("/resources/{id}/schedules/{date}", getScheduleHandler(svc))

	r.Post("/waitlist", enqueueWaitlistHandler(svc))
	r.Post("/waitlist/process", processWaitlistHandler(svc))

	return otelhttp.NewHandler(r, "scheduling-api")
}
