package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

// Enroller is the part of the subscription ledger a succeeded payment drives.
type Enroller interface {
	GetActiveForYear(ctx context.Context, petParentID uuid.UUID, year int) (*subscription.Subscription, error)
	Create(ctx context.Context, in subscription.CreateInput) (*subscription.Subscription, error)
	Resubscribe(ctx context.Context, in subscription.CreateInput) (*subscription.Subscription, error)
}

type Service struct {
	repo     Repository
	enroller Enroller
	tx       db.Transactor
	log      zerolog.Logger
}

func NewService(repo Repository, enroller Enroller, tx db.Transactor, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		enroller: enroller,
		tx:       tx,
		log:      log.With().Str("component", "payment").Logger(),
	}
}

func validateEvent(evt SucceededEvent) error {
	var missing []string
	if strings.TrimSpace(evt.ExternalRef) == "" {
		missing = append(missing, "external ref")
	}
	if evt.PetParentID == uuid.Nil {
		missing = append(missing, "pet parent id")
	}
	if evt.PaidAt.IsZero() {
		missing = append(missing, "paid at")
	}
	if evt.Kind != KindSubscription && evt.Kind != KindConsultation {
		missing = append(missing, "kind")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid payment event: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// RecordSucceeded stores the payment and, for subscription payments, enrols the
// pet parent for the year it was paid in, all in one unit. Replayed events are
// reported as duplicates without enrolling twice.
func (s *Service) RecordSucceeded(ctx context.Context, evt SucceededEvent) (*Result, error) {
	if err := validateEvent(evt); err != nil {
		return nil, err
	}

	res := &Result{}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.Insert(ctx, Payment{
			PetParentID: evt.PetParentID,
			ExternalRef: evt.ExternalRef,
			Kind:        evt.Kind,
			Amount:      evt.Amount,
			Currency:    strings.ToLower(evt.Currency),
			Status:      StatusSucceeded,
			PaidAt:      evt.PaidAt.UTC(),
		})
		if err != nil {
			return err
		}
		res.Payment = p

		if evt.Kind != KindSubscription {
			return nil
		}
		res.Subscription, err = s.enrol(ctx, evt)
		return err
	})
	if errors.Is(err, ErrDuplicatePayment) {
		existing, getErr := s.repo.GetByExternalRef(ctx, evt.ExternalRef)
		if getErr != nil {
			return nil, getErr
		}
		s.log.Info().Str("external_ref", evt.ExternalRef).Msg("payment event replayed")
		return &Result{Payment: existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("payment_id", res.Payment.ID.String()).
		Str("pet_parent_id", evt.PetParentID.String()).
		Str("kind", string(evt.Kind)).
		Msg("payment recorded")
	return res, nil
}

func (s *Service) enrol(ctx context.Context, evt SucceededEvent) (*subscription.Subscription, error) {
	in := subscription.CreateInput{
		PetParentID: evt.PetParentID,
		ExternalID:  evt.SubscriptionExternalID,
		DonationRef: evt.ExternalRef,
		StartDate:   evt.PaidAt,
		PaymentRefs: []string{evt.ExternalRef},
	}

	_, err := s.enroller.GetActiveForYear(ctx, evt.PetParentID, evt.PaidAt.UTC().Year())
	switch {
	case err == nil:
		return s.enroller.Resubscribe(ctx, in)
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return s.enroller.Create(ctx, in)
	default:
		return nil, err
	}
}

func (s *Service) LatestSucceeded(ctx context.Context, petParentID uuid.UUID) (*Payment, error) {
	return s.repo.LatestSucceeded(ctx, petParentID)
}
