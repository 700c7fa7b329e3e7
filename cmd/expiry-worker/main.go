package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/logger"
	redisclient "github.com/hackgods/vet-telehealth/internal/redis"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

const lockName = "subscription-expiry-sweep"

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "expiry-worker")
	log.Info().Str("env", cfg.Env).Str("schedule", cfg.SweepSchedule).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	ledger := subscription.NewLedger(subscription.NewPgRepository(pgPool), db.NewTxManager(pgPool), cfg.Policy, log,
		subscription.WithCache(redisclient.NewQuotaCache(rdb, cfg.Policy.QuotaCacheTTL)))
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	clog := cronLogger{log: log}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	if _, err := c.AddFunc(cfg.SweepSchedule, func() { runOnce(rootCtx, locker, ledger, log) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("invalid sweep schedule")
	}

	// Run once at startup
	runOnce(rootCtx, locker, ledger, log)

	c.Start()
	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping expiry worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, locker redisclient.Locker, ledger *subscription.Ledger, log zerolog.Logger) {
	start := time.Now()
	var n int
	err := locker.WithLock(ctx, lockName, func(ctx context.Context) error {
		var err error
		n, err = ledger.DeactivateExpired(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Debug().Msg("another replica holds the sweep lease")
	case err != nil:
		log.Error().Err(err).Int("deactivated", n).Msg("expiry sweep failed")
	default:
		log.Info().Int("deactivated", n).Dur("took", time.Since(start)).Msg("expiry sweep complete")
	}
}
