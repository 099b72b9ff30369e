package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/api"
	"github.com/clinsched/appointment-engine/internal/appointment"
	"github.com/clinsched/appointment-engine/internal/config"
	"github.com/clinsched/appointment-engine/internal/db"
	"github.com/clinsched/appointment-engine/internal/notify"
	redisclient "github.com/clinsched/appointment-engine/internal/redis"
	"github.com/clinsched/appointment-engine/internal/scheduler"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

const version = "0.3.0"

func main() {
	log := newLogger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatal().Err(err).Msg("schema migration error")
	}
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	dir := appointment.NewPgDirectory(pgPool)
	tenants := tenantcfg.NewPGReader(pgPool)
	locker := redisclient.NewRedisBookingLocker(rdb, cfg.LockTTL)
	notifier := notify.LogNotifier{Log: log.With().Str("component", "notifier").Logger()}

	svc := appointment.NewService(repo, dir, tenants, locker, notify.CancellationSender{N: notifier}, log.With().Str("component", "service").Logger())

	// The recurring loop lives in the reminder-worker binary; this instance
	// only serves the manual run-once trigger.
	sched := scheduler.New(repo, dir, tenants, notifier, scheduler.Config{
		Interval:  cfg.SchedulerInterval,
		Tolerance: cfg.SchedulerTolerance,
	}, log.With().Str("component", "scheduler").Logger())

	handler := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Scheduler: sched,
		Notifier:  notifier,
		PgPool:    pgPool,
		Redis:     rdb,
		Log:       log,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("APP_ENV") == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
