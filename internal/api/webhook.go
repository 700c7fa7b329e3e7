package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/payment"
)

const (
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	maxWebhookBytes             = int64(65536)
)

// Metadata keys set on the PaymentIntent by the checkout frontend.
const (
	metaPetParentID    = "pet_parent_id"
	metaKind           = "kind"
	metaSubscriptionID = "subscription_id"
)

type StripeWebhookHandler struct {
	secret   string
	payments *payment.Service
	log      zerolog.Logger
}

func NewStripeWebhookHandler(secret string, payments *payment.Service, log zerolog.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		secret:   secret,
		payments: payments,
		log:      log.With().Str("component", "stripe_webhook").Logger(),
	}
}

func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, h.log, apperr.Validation(map[string]string{"body": "could not be read"}))
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature verification failed")
		writeError(w, r, h.log, apperr.Validation(map[string]string{"Stripe-Signature": "invalid signature"}))
		return
	}

	if string(event.Type) != eventPaymentIntentSucceeded {
		h.log.Debug().Str("event", string(event.Type)).Msg("unhandled webhook event")
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Event: string(event.Type)})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		writeError(w, r, h.log, apperr.Validation(map[string]string{"data": "is not a payment intent"}))
		return
	}

	evt, ok := succeededEvent(pi, time.Unix(event.Created, 0).UTC())
	if !ok {
		// Nothing to record. Acknowledge so the provider stops retrying.
		h.log.Warn().Str("payment_intent", pi.ID).Msg("payment intent without a valid pet parent, ignored")
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Event: string(event.Type)})
		return
	}

	res, err := h.payments.RecordSucceeded(r.Context(), evt)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Duplicate: res.Duplicate, Event: string(event.Type)})
}

// succeededEvent normalizes a PaymentIntent. Amounts arrive in minor units.
func succeededEvent(pi stripe.PaymentIntent, paidAt time.Time) (payment.SucceededEvent, bool) {
	parentID, err := uuid.Parse(pi.Metadata[metaPetParentID])
	if err != nil || pi.ID == "" {
		return payment.SucceededEvent{}, false
	}
	kind := payment.KindConsultation
	if strings.EqualFold(pi.Metadata[metaKind], string(payment.KindSubscription)) {
		kind = payment.KindSubscription
	}
	return payment.SucceededEvent{
		ExternalRef:            pi.ID,
		SubscriptionExternalID: pi.Metadata[metaSubscriptionID],
		PetParentID:            parentID,
		Kind:                   kind,
		Amount:                 float64(pi.Amount) / 100,
		Currency:               strings.ToLower(string(pi.Currency)),
		PaidAt:                 paidAt,
	}, true
}
