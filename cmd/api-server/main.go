package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/api"
	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/logger"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/payment"
	redisclient "github.com/hackgods/vet-telehealth/internal/redis"
	"github.com/hackgods/vet-telehealth/internal/review"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

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

	handler := buildRouter(cfg, pgPool, rdb, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func buildRouter(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) http.Handler {
	tx := db.NewTxManager(pool)

	ledger := subscription.NewLedger(subscription.NewPgRepository(pool), tx, cfg.Policy, log,
		subscription.WithCache(redisclient.NewQuotaCache(rdb, cfg.Policy.QuotaCacheTTL)))
	payments := payment.NewService(payment.NewPgRepository(pool), ledger, tx, log)

	appts := appointment.NewPgRepository(pool)
	slots := slot.NewPgStore(pool)
	records := notification.NewPgRepository(pool)
	queue := redisclient.NewQueue(rdb, cfg.Notification.Queue)

	coord := appointment.NewCoordinator(appointment.Deps{
		Repo:     appts,
		Slots:    slots,
		Ledger:   ledger,
		Records:  records,
		Notifier: notification.NewQueueDispatcher(queue, log),
		Receipts: payments,
		Tx:       tx,
		Links:    appointment.NewMeetingLinks(cfg.Meeting.BaseURL, cfg.Meeting.Secret),
		Log:      log,
	})

	return api.NewRouter(api.RouterConfig{
		Appointments:  coord,
		Directory:     appts,
		Subscriptions: ledger,
		Payments:      payments,
		Reviews:       review.NewService(review.NewPgRepository(pool), appts, log),
		Slots:         slots,
		Notifications: records,
		Tokens:        auth.NewTokenService(cfg.JWTSecret, 24*time.Hour),
		Checks: []api.Check{
			{Name: "postgres", Critical: true, Ping: pool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Log:                  log,
		Env:                  cfg.Env,
		Version:              version,
		CORSOrigins:          cfg.CORSOrigins,
		BookingRatePerMinute: cfg.BookingRatePerMinute,
		StripeWebhookSecret:  cfg.Stripe.WebhookSecret,
	})
}
