package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/appointment"
	"github.com/clinsched/appointment-engine/internal/config"
	"github.com/clinsched/appointment-engine/internal/db"
	"github.com/clinsched/appointment-engine/internal/notify"
	redisclient "github.com/clinsched/appointment-engine/internal/redis"
	"github.com/clinsched/appointment-engine/internal/scheduler"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

func main() {
	log := newLogger()
	log.Info().Msg("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SchedulerInterval).
		Dur("tolerance", cfg.SchedulerTolerance).
		Bool("speedup", cfg.SchedulerSpeedup).
		Msg("running reminder worker")

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
	notifier := notify.LogNotifier{Log: log.With().Str("component", "notifier").Logger()}

	schedCfg := scheduler.Config{
		Interval:  cfg.SchedulerInterval,
		Tolerance: cfg.SchedulerTolerance,
	}
	if cfg.SchedulerSpeedup {
		// One offset-hour becomes one minute; useful when exercising the
		// full 24h reminder ladder in a short session.
		schedCfg.HourUnit = time.Minute
	}

	sched := scheduler.New(repo, dir, tenants, notifier, schedCfg, log.With().Str("component", "scheduler").Logger())

	// Run blocks until the shutdown signal cancels the context; the
	// in-flight tick finishes before Run returns.
	sched.Run(rootCtx)

	log.Info().Msg("reminder-worker stopped")
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("APP_ENV") == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
