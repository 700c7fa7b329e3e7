package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/vet-telehealth/internal/db"
)

const activePerYearConstraint = "subscriptions_one_active_per_year"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const subscriptionColumns = `id, pet_parent_id, external_id, donation_ref, calendar_year, start_date, end_date,
	max_appointments, remaining_appointments, appointment_ids, active, is_resubscription,
	resubscription_count, payment_refs, metadata, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription

	err := row.Scan(
		&s.ID,
		&s.PetParentID,
		&s.ExternalID,
		&s.DonationRef,
		&s.CalendarYear,
		&s.StartDate,
		&s.EndDate,
		&s.MaxAppointments,
		&s.RemainingAppointments,
		&s.AppointmentIDs,
		&s.Active,
		&s.IsResubscription,
		&s.ResubscriptionCount,
		&s.PaymentRefs,
		&s.Metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if s.AppointmentIDs == nil {
		s.AppointmentIDs = []uuid.UUID{}
	}
	return &s, nil
}

func (r *PgRepository) Insert(ctx context.Context, s Subscription) (*Subscription, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.AppointmentIDs == nil {
		s.AppointmentIDs = []uuid.UUID{}
	}
	if s.PaymentRefs == nil {
		s.PaymentRefs = []string{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}

	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO subscriptions (
			id, pet_parent_id, external_id, donation_ref, calendar_year, start_date, end_date,
			max_appointments, remaining_appointments, appointment_ids, active, is_resubscription,
			resubscription_count, payment_refs, metadata, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING `+subscriptionColumns,
		s.ID, s.PetParentID, s.ExternalID, s.DonationRef, s.CalendarYear, s.StartDate, s.EndDate,
		s.MaxAppointments, s.RemainingAppointments, s.AppointmentIDs, s.Active, s.IsResubscription,
		s.ResubscriptionCount, s.PaymentRefs, s.Metadata)

	created, err := scanSubscription(row)
	if err != nil {
		if db.IsUniqueViolation(err, activePerYearConstraint) {
			return nil, ErrDuplicateActiveSubscription
		}
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1
	`, id)
	return scanSubscription(row)
}

// GetActive returns the active record with the latest calendar year.
func (r *PgRepository) GetActive(ctx context.Context, petParentID uuid.UUID) (*Subscription, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE pet_parent_id = $1 AND active
		ORDER BY calendar_year DESC
		LIMIT 1
	`, petParentID)
	return scanSubscription(row)
}

func (r *PgRepository) GetActiveForYear(ctx context.Context, petParentID uuid.UUID, year int) (*Subscription, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE pet_parent_id = $1 AND calendar_year = $2 AND active
	`, petParentID, year)
	return scanSubscription(row)
}

func (r *PgRepository) ListForParent(ctx context.Context, petParentID uuid.UUID) ([]Subscription, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE pet_parent_id = $1
		ORDER BY created_at ASC
	`, petParentID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Consume decrements the quota and appends the appointment in one statement.
// The WHERE clause is the guard; when it matches nothing the cause is read back.
func (r *PgRepository) Consume(ctx context.Context, id, appointmentID uuid.UUID) (*Subscription, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE subscriptions
		SET remaining_appointments = remaining_appointments - 1,
		    appointment_ids = array_append(appointment_ids, $2),
		    updated_at = now()
		WHERE id = $1
		  AND active
		  AND remaining_appointments > 0
		  AND NOT ($2 = ANY(appointment_ids))
		RETURNING `+subscriptionColumns, id, appointmentID)

	s, err := scanSubscription(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("consume quota: %w", err)
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case !cur.Active:
		return nil, ErrSubscriptionInactive
	case cur.Consumed(appointmentID):
		return nil, ErrAlreadyConsumed
	default:
		return nil, ErrQuotaExhausted
	}
}

func (r *PgRepository) Restore(ctx context.Context, id, appointmentID uuid.UUID) (*Subscription, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE subscriptions
		SET remaining_appointments = remaining_appointments + 1,
		    appointment_ids = array_remove(appointment_ids, $2),
		    updated_at = now()
		WHERE id = $1
		  AND active
		  AND remaining_appointments < max_appointments
		  AND $2 = ANY(appointment_ids)
		RETURNING `+subscriptionColumns, id, appointmentID)

	s, err := scanSubscription(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("restore quota: %w", err)
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case !cur.Active:
		return nil, ErrSubscriptionInactive
	case cur.RemainingAppointments >= cur.MaxAppointments:
		return nil, ErrAtMaximum
	default:
		return nil, ErrNotConsumed
	}
}

func (r *PgRepository) Deactivate(ctx context.Context, id uuid.UUID, reason string) (*Subscription, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE subscriptions
		SET active = false,
		    metadata = metadata || jsonb_build_object('deactivated_reason', $2::text, 'deactivated_at', now()),
		    updated_at = now()
		WHERE id = $1 AND active
		RETURNING `+subscriptionColumns, id, reason)

	s, err := scanSubscription(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("deactivate subscription: %w", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrSubscriptionInactive
}

func (r *PgRepository) CountResubscriptions(ctx context.Context, petParentID uuid.UUID, year int) (int, error) {
	var n int
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*)
		FROM subscriptions
		WHERE pet_parent_id = $1 AND calendar_year = $2 AND is_resubscription
	`, petParentID, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count resubscriptions: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]Subscription, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE active AND end_date < $1
		ORDER BY end_date ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired subscriptions: %w", err)
	}
	return collect(rows)
}

// LockParentYear takes a transaction-scoped advisory lock. Outside a
// transaction it is a no-op and the partial unique index is the only guard.
func (r *PgRepository) LockParentYear(ctx context.Context, petParentID uuid.UUID, year int) error {
	if !db.InTx(ctx) {
		return nil
	}
	key := fmt.Sprintf("subscription:%s:%d", petParentID, year)
	if _, err := db.Executor(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock subscription year: %w", err)
	}
	return nil
}
