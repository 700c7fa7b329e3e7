package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/payment"
	"github.com/hackgods/vet-telehealth/internal/review"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

type RouterConfig struct {
	Appointments  *appointment.Coordinator
	Directory     appointment.Directory
	Subscriptions *subscription.Ledger
	Payments      *payment.Service
	Reviews       *review.Service
	Slots         slot.Store
	Notifications notification.Repository
	Tokens        *auth.TokenService
	Checks        []Check
	Log           zerolog.Logger
	Env           string
	Version       string
	CORSOrigins   []string
	// BookingRatePerMinute limits booking and cancellation per client. 0 disables it.
	BookingRatePerMinute int
	StripeWebhookSecret  string
	Now                  func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Payments != nil && cfg.StripeWebhookSecret != "" {
		r.Post("/webhooks/stripe", NewStripeWebhookHandler(cfg.StripeWebhookSecret, cfg.Payments, log).HandleWebhook)
	}

	limited := func(h http.Handler) http.Handler { return h }
	if cfg.BookingRatePerMinute > 0 {
		limited = NewRateLimiter(cfg.BookingRatePerMinute).Limit
	}

	r.Group(func(r chi.Router) {
		r.Use(cfg.Tokens.Middleware)
		r.Use(RequireAuth(log))

		r.With(limited).Post("/appointments", createAppointmentHandler(cfg.Appointments, log))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, log))
		r.Get("/appointments/{id}/meeting", verifyMeetingLinkHandler(cfg.Appointments, log))
		r.With(limited).Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, log))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments, log))
		r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Appointments, log))
		r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Appointments, log))

		r.Get("/subscriptions", subscriptionHistoryHandler(cfg.Subscriptions, cfg.Directory, log))
		r.Get("/subscriptions/quota", quotaHandler(cfg.Subscriptions, cfg.Directory, now, log))
		r.Get("/subscriptions/active", activeSubscriptionHandler(cfg.Subscriptions, cfg.Directory, log))
		r.Post("/subscriptions/{id}/deactivate", deactivateSubscriptionHandler(cfg.Subscriptions, log))

		r.Get("/slots/stats", slotStatsHandler(cfg.Slots, cfg.Directory, log))

		r.Post("/reviews", createReviewHandler(cfg.Reviews, log))
		r.Get("/reviews", listReviewsHandler(cfg.Reviews, log))

		r.Get("/notifications", listNotificationsHandler(cfg.Notifications, log))
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(r)
}
