package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/appointment"
	"github.com/clinsched/appointment-engine/internal/notify"
	"github.com/clinsched/appointment-engine/internal/scheduler"
)

type RouterConfig struct {
	Service   *appointment.Service
	Scheduler *scheduler.Scheduler
	Notifier  notify.Notifier
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &appointmentHandlers{svc: cfg.Service, notifier: cfg.Notifier, log: cfg.Log}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.listByTenant)
		r.Get("/{id}", h.get)
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/attend", h.attend)
	})

	r.Get("/patients/{id}/appointments", h.listByPatient)

	r.Route("/specialists/{id}", func(r chi.Router) {
		r.Get("/appointments", h.listBySpecialist)
		r.Post("/inactivity", h.registerInactivity)
		r.Delete("/inactivity/{intervalID}", h.removeInactivity)
	})

	r.Post("/debug/scheduler/run-once", runSchedulerOnceHandler(cfg.Scheduler, cfg.Log))

	return r
}
