package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/subscription"
)

type Kind string

const (
	KindSubscription Kind = "subscription"
	KindConsultation Kind = "consultation"
)

const StatusSucceeded = "succeeded"

// Payment is a confirmed payment fact. Capture happens upstream; this system
// only records what the provider reported as succeeded.
type Payment struct {
	ID          uuid.UUID
	PetParentID uuid.UUID
	ExternalRef string
	Kind        Kind
	Amount      float64
	Currency    string
	Status      string
	PaidAt      time.Time
	CreatedAt   time.Time
}

// SucceededEvent is the normalized form of a provider webhook.
type SucceededEvent struct {
	ExternalRef            string
	SubscriptionExternalID string
	PetParentID            uuid.UUID
	Kind                   Kind
	Amount                 float64
	Currency               string
	PaidAt                 time.Time
}

type Result struct {
	Payment      *Payment
	Subscription *subscription.Subscription // nil unless the payment enrolled quota
	Duplicate    bool                       // the event was already recorded
}
