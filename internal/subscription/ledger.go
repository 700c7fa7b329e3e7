package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	redisclient "github.com/hackgods/vet-telehealth/internal/redis"
)

// QuotaCache is the read-through cache behind Ledger.Quota. Set only stores
// when no Invalidate ran since the generation was read.
type QuotaCache interface {
	Get(ctx context.Context, petParentID uuid.UUID, year int) (*redisclient.CachedQuota, error)
	Generation(ctx context.Context, petParentID uuid.UUID, year int) (int64, error)
	Set(ctx context.Context, petParentID uuid.UUID, year int, gen int64, q redisclient.CachedQuota) (bool, error)
	Invalidate(ctx context.Context, petParentID uuid.UUID, year int) error
}

const sweepBatch = 200

// Ledger owns every pet parent's annual quota record. Mutations join the unit
// of work carried by ctx, so the Coordinator can consume or restore quota in the
// same transaction as its appointment write.
type Ledger struct {
	repo   Repository
	tx     db.Transactor
	policy config.Policy
	cache  QuotaCache
	log    zerolog.Logger
	now    func() time.Time
}

type Option func(*Ledger)

func WithCache(c QuotaCache) Option {
	return func(l *Ledger) { l.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(repo Repository, tx db.Transactor, policy config.Policy, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		tx:     tx,
		policy: policy,
		log:    log.With().Str("component", "subscription_ledger").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Policy() config.Policy {
	return l.policy
}

// GetActive returns the pet parent's active record with the latest calendar
// year, or ErrSubscriptionNotFound.
func (l *Ledger) GetActive(ctx context.Context, petParentID uuid.UUID) (*Subscription, error) {
	return l.repo.GetActive(ctx, petParentID)
}

func (l *Ledger) GetActiveForYear(ctx context.Context, petParentID uuid.UUID, year int) (*Subscription, error) {
	return l.repo.GetActiveForYear(ctx, petParentID, year)
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return l.repo.Get(ctx, id)
}

func (l *Ledger) ListForParent(ctx context.Context, petParentID uuid.UUID) ([]Subscription, error) {
	return l.repo.ListForParent(ctx, petParentID)
}

// HasLowQuota is true iff an active record exists for the year and its
// remaining count is at or below the policy threshold.
func (l *Ledger) HasLowQuota(ctx context.Context, petParentID uuid.UUID, year int) (bool, error) {
	q, err := l.Quota(ctx, petParentID, year)
	if err != nil {
		return false, err
	}
	return q.LowQuota, nil
}

// Quota reports quota availability for one year. Reads go through the cache
// when one is configured; cache failures fall back to the repository.
func (l *Ledger) Quota(ctx context.Context, petParentID uuid.UUID, year int) (QuotaStatus, error) {
	cacheable := false
	var gen int64
	if l.cache != nil {
		cached, err := l.cache.Get(ctx, petParentID, year)
		if err != nil {
			l.log.Warn().Err(err).Str("pet_parent_id", petParentID.String()).Msg("quota cache read failed")
		} else if cached != nil {
			return l.status(year, cached), nil
		}
		if gen, err = l.cache.Generation(ctx, petParentID, year); err == nil {
			cacheable = true
		}
	}

	cq := redisclient.CachedQuota{NotFound: true}
	s, err := l.repo.GetActiveForYear(ctx, petParentID, year)
	switch {
	case err == nil:
		cq = redisclient.CachedQuota{
			SubscriptionID: s.ID,
			Remaining:      s.RemainingAppointments,
			Max:            s.MaxAppointments,
			EndDate:        s.EndDate,
		}
	case !errors.Is(err, ErrSubscriptionNotFound):
		return QuotaStatus{}, fmt.Errorf("quota lookup: %w", err)
	}

	if cacheable {
		stored, err := l.cache.Set(ctx, petParentID, year, gen, cq)
		switch {
		case err != nil:
			l.log.Warn().Err(err).Str("pet_parent_id", petParentID.String()).Msg("quota cache write failed")
		case !stored:
			l.log.Debug().Str("pet_parent_id", petParentID.String()).Int("year", year).Msg("quota changed during read, not cached")
		}
	}
	return l.status(year, &cq), nil
}

func (l *Ledger) status(year int, cq *redisclient.CachedQuota) QuotaStatus {
	st := QuotaStatus{Year: year}
	if cq.NotFound {
		return st
	}
	st.HasSubscription = true
	st.SubscriptionID = cq.SubscriptionID
	st.Remaining = cq.Remaining
	st.Max = cq.Max
	st.Expired = l.now().After(cq.EndDate)
	st.Available = !st.Expired && cq.Remaining > 0
	st.LowQuota = cq.Remaining <= l.policy.LowQuotaThreshold
	return st
}

// invalidate drops the cached quota once the surrounding unit commits.
func (l *Ledger) invalidate(ctx context.Context, petParentID uuid.UUID, year int) {
	if l.cache == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	db.AfterCommit(ctx, func() {
		if err := l.cache.Invalidate(bg, petParentID, year); err != nil {
			l.log.Warn().Err(err).
				Str("pet_parent_id", petParentID.String()).
				Int("year", year).
				Msg("quota cache invalidation failed")
		}
	})
}

func (l *Ledger) newRecord(in CreateInput) Subscription {
	start := in.StartDate.UTC()
	return Subscription{
		PetParentID:           in.PetParentID,
		ExternalID:            in.ExternalID,
		DonationRef:           in.DonationRef,
		CalendarYear:          in.year(),
		StartDate:             start,
		EndDate:               start.AddDate(1, 0, 0),
		MaxAppointments:       l.policy.MaxAppointments,
		RemainingAppointments: l.policy.MaxAppointments,
		AppointmentIDs:        []uuid.UUID{},
		Active:                true,
		PaymentRefs:           in.PaymentRefs,
		Metadata:              in.Metadata,
	}
}

func validateInput(in CreateInput) error {
	if in.PetParentID == uuid.Nil {
		return errors.New("pet parent id is required")
	}
	if in.StartDate.IsZero() {
		return errors.New("start date is required")
	}
	return nil
}

// Create opens the first record for (pet parent, year). It fails with
// ErrDuplicateActiveSubscription when an active record already exists.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*Subscription, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var created *Subscription
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		year := in.year()
		if err := l.repo.LockParentYear(ctx, in.PetParentID, year); err != nil {
			return err
		}

		_, err := l.repo.GetActiveForYear(ctx, in.PetParentID, year)
		switch {
		case err == nil:
			return ErrDuplicateActiveSubscription
		case !errors.Is(err, ErrSubscriptionNotFound):
			return err
		}

		created, err = l.repo.Insert(ctx, l.newRecord(in))
		if err != nil {
			return err
		}
		l.invalidate(ctx, created.PetParentID, created.CalendarYear)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("subscription_id", created.ID.String()).
		Str("pet_parent_id", created.PetParentID.String()).
		Int("year", created.CalendarYear).
		Msg("subscription created")
	return created, nil
}

// Resubscribe supersedes the active record for (pet parent, year), if any, with
// a fresh one at full quota. The old record keeps its consumed history.
func (l *Ledger) Resubscribe(ctx context.Context, in CreateInput) (*Subscription, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var created *Subscription
	var superseded uuid.UUID
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		year := in.year()
		if err := l.repo.LockParentYear(ctx, in.PetParentID, year); err != nil {
			return err
		}

		cur, err := l.repo.GetActiveForYear(ctx, in.PetParentID, year)
		switch {
		case err == nil:
			if _, err := l.repo.Deactivate(ctx, cur.ID, "resubscribed"); err != nil {
				return fmt.Errorf("supersede subscription: %w", err)
			}
			superseded = cur.ID
		case !errors.Is(err, ErrSubscriptionNotFound):
			return err
		}

		prior, err := l.repo.CountResubscriptions(ctx, in.PetParentID, year)
		if err != nil {
			return err
		}

		rec := l.newRecord(in)
		rec.IsResubscription = true
		rec.ResubscriptionCount = prior + 1

		created, err = l.repo.Insert(ctx, rec)
		if err != nil {
			return err
		}
		l.invalidate(ctx, created.PetParentID, created.CalendarYear)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := l.log.Info().
		Str("subscription_id", created.ID.String()).
		Str("pet_parent_id", created.PetParentID.String()).
		Int("year", created.CalendarYear).
		Int("resubscription_count", created.ResubscriptionCount)
	if superseded != uuid.Nil {
		ev = ev.Str("superseded_id", superseded.String())
	}
	ev.Msg("subscription resubscribed")
	return created, nil
}

// Consume takes one appointment from the record. It is a single conditional
// write; ErrQuotaExhausted when remaining is already zero.
func (l *Ledger) Consume(ctx context.Context, subscriptionID, appointmentID uuid.UUID) (*Subscription, error) {
	s, err := l.repo.Consume(ctx, subscriptionID, appointmentID)
	if err != nil {
		return nil, err
	}
	l.invalidate(ctx, s.PetParentID, s.CalendarYear)
	return s, nil
}

// ConsumeForYear consumes from the pet parent's active, unexpired record for
// the year. Missing or expired records surface as ErrQuotaExhausted wrapped
// around the underlying cause.
func (l *Ledger) ConsumeForYear(ctx context.Context, petParentID uuid.UUID, year int, appointmentID uuid.UUID) (*Subscription, error) {
	s, err := l.repo.GetActiveForYear(ctx, petParentID, year)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("%w: no active subscription for %d", ErrQuotaExhausted, year)
		}
		return nil, err
	}
	if s.ExpiredAt(l.now()) {
		return nil, fmt.Errorf("%w: %w", ErrQuotaExhausted, ErrSubscriptionExpired)
	}
	return l.Consume(ctx, s.ID, appointmentID)
}

// Restore gives one appointment back to the record it was consumed from.
func (l *Ledger) Restore(ctx context.Context, subscriptionID, appointmentID uuid.UUID) (*Subscription, error) {
	s, err := l.repo.Restore(ctx, subscriptionID, appointmentID)
	if err != nil {
		return nil, err
	}
	l.invalidate(ctx, s.PetParentID, s.CalendarYear)
	return s, nil
}

func (l *Ledger) Deactivate(ctx context.Context, id uuid.UUID, reason string) (*Subscription, error) {
	s, err := l.repo.Deactivate(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	l.invalidate(ctx, s.PetParentID, s.CalendarYear)

	l.log.Info().
		Str("subscription_id", s.ID.String()).
		Str("reason", reason).
		Msg("subscription deactivated")
	return s, nil
}

// IsExpired reports now > end date. Missing or inactive records count as expired.
func (l *Ledger) IsExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	s, err := l.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return true, nil
		}
		return false, err
	}
	if !s.Active {
		return true, nil
	}
	return s.ExpiredAt(l.now()), nil
}

// DeactivateExpired deactivates every active record whose end date has passed.
// Each record is its own unit so one failure does not block the rest.
func (l *Ledger) DeactivateExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := l.repo.ListExpiredActive(ctx, l.now(), sweepBatch)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		done := 0
		for _, s := range batch {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
				_, err := l.Deactivate(ctx, s.ID, "expired")
				return err
			})
			switch {
			case err == nil:
				done++
			case errors.Is(err, ErrSubscriptionInactive):
			default:
				l.log.Error().Err(err).Str("subscription_id", s.ID.String()).Msg("expiry deactivation failed")
			}
		}
		total += done

		if len(batch) < sweepBatch || done == 0 {
			return total, nil
		}
	}
}
