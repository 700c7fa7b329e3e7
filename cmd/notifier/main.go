package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/logger"
	"github.com/hackgods/vet-telehealth/internal/notification"
	redisclient "github.com/hackgods/vet-telehealth/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "notifier")
	log.Info().Str("env", cfg.Env).Str("queue", cfg.Notification.Queue).Msg("notifier starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	nc := cfg.Notification
	senders := buildSenders(nc, rdb, log)

	queue := redisclient.NewQueue(rdb, nc.Queue)
	worker := notification.NewWorker(queue, nc.MaxAttempts, nc.Backoff, log, senders...)
	if err := worker.Run(rootCtx); err != nil {
		log.Error().Err(err).Msg("notification worker stopped")
	}
	log.Info().Msg("notifier stopped")
}

// buildSenders enables email and SMS only when their credentials are present.
// Push is always on.
func buildSenders(nc config.NotificationConfig, rdb *redis.Client, log zerolog.Logger) []notification.Sender {
	senders := []notification.Sender{notification.NewPushSender(rdb)}
	if nc.SendGridAPIKey != "" && nc.SendGridFrom != "" {
		senders = append(senders, notification.NewEmailSender(nc.SendGridAPIKey, nc.SendGridFrom, nc.SendGridFromName))
	} else {
		log.Warn().Msg("SendGrid not configured, email channel disabled")
	}
	if nc.TwilioSID != "" && nc.TwilioToken != "" && nc.TwilioFrom != "" {
		senders = append(senders, notification.NewSMSSender(nc.TwilioSID, nc.TwilioToken, nc.TwilioFrom))
	} else {
		log.Warn().Msg("Twilio not configured, sms channel disabled")
	}
	return senders
}
