package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSubscriptionNotFound        = errors.New("subscription not found")
	ErrDuplicateActiveSubscription = errors.New("an active subscription already exists for this year")
	ErrSubscriptionInactive        = errors.New("subscription is inactive")
	ErrSubscriptionExpired         = errors.New("subscription has expired")
	ErrQuotaExhausted              = errors.New("subscription quota exhausted")
	ErrAtMaximum                   = errors.New("subscription quota already at maximum")
	ErrAlreadyConsumed             = errors.New("appointment already consumed quota")
	ErrNotConsumed                 = errors.New("appointment did not consume quota from this subscription")
)

// Repository persists ledger entries. Consume and Restore are single
// conditional writes that keep max - remaining == len(appointment ids).
type Repository interface {
	Insert(ctx context.Context, s Subscription) (*Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetActive(ctx context.Context, petParentID uuid.UUID) (*Subscription, error)
	GetActiveForYear(ctx context.Context, petParentID uuid.UUID, year int) (*Subscription, error)
	ListForParent(ctx context.Context, petParentID uuid.UUID) ([]Subscription, error)

	Consume(ctx context.Context, id, appointmentID uuid.UUID) (*Subscription, error)
	Restore(ctx context.Context, id, appointmentID uuid.UUID) (*Subscription, error)

	// Deactivate flips an active record to inactive and returns it.
	Deactivate(ctx context.Context, id uuid.UUID, reason string) (*Subscription, error)
	CountResubscriptions(ctx context.Context, petParentID uuid.UUID, year int) (int, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]Subscription, error)

	// LockParentYear serializes create/resubscribe for one pet parent and year
	// until the surrounding unit ends.
	LockParentYear(ctx context.Context, petParentID uuid.UUID, year int) error
}
