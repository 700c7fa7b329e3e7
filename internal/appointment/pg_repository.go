package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/page"
	"github.com/hackgods/vet-telehealth/internal/slot"
)

const activePerSlotConstraint = "appointments_one_active_per_slot"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanVet(row pgx.Row) (*Vet, error) {
	var v Vet
	var email, phone, specialty *string

	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.Name,
		&email,
		&phone,
		&specialty,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVetNotFound
		}
		return nil, err
	}

	v.Email, v.Phone, v.Specialty = deref(email), deref(phone), deref(specialty)
	return &v, nil
}

func scanPetParent(row pgx.Row) (*PetParent, error) {
	var p PetParent
	var email, phone *string

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&email,
		&phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPetParentNotFound
		}
		return nil, err
	}

	p.Email, p.Phone = deref(email), deref(phone)
	return &p, nil
}

func scanPet(row pgx.Row) (*Pet, error) {
	var p Pet
	var breed *string

	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Species,
		&breed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPetNotFound
		}
		return nil, err
	}

	p.Breed = deref(breed)
	return &p, nil
}

const appointmentColumns = `id, provider_id, requester_id, pet_id, slot_id, subscription_id, scheduled_at, ends_at,
	timezone, fee, type, payment_status, status, concerns, notes, is_follow_up, meeting_link,
	COALESCE(cancel_reason, ''), deleted, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.RequesterID,
		&a.PetID,
		&a.SlotID,
		&a.SubscriptionID,
		&a.ScheduledAt,
		&a.EndsAt,
		&a.Timezone,
		&a.Fee,
		&a.Type,
		&a.PaymentStatus,
		&a.Status,
		&a.Concerns,
		&a.Notes,
		&a.IsFollowUp,
		&a.MeetingLink,
		&a.CancelReason,
		&a.Deleted,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ScheduledAt, a.EndsAt = a.ScheduledAt.UTC(), a.EndsAt.UTC()
	return &a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Directory

func (r *PgRepository) GetVet(ctx context.Context, id uuid.UUID) (*Vet, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, name, email, phone, specialty, created_at, updated_at
		FROM vets
		WHERE id = $1
	`, id)
	return scanVet(row)
}

func (r *PgRepository) GetVetByUserID(ctx context.Context, userID uuid.UUID) (*Vet, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, name, email, phone, specialty, created_at, updated_at
		FROM vets
		WHERE user_id = $1
	`, userID)
	return scanVet(row)
}

func (r *PgRepository) GetPetParent(ctx context.Context, id uuid.UUID) (*PetParent, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, name, email, phone, created_at, updated_at
		FROM pet_parents
		WHERE id = $1
	`, id)
	return scanPetParent(row)
}

func (r *PgRepository) GetPetParentByUserID(ctx context.Context, userID uuid.UUID) (*PetParent, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, name, email, phone, created_at, updated_at
		FROM pet_parents
		WHERE user_id = $1
	`, userID)
	return scanPetParent(row)
}

func (r *PgRepository) GetPet(ctx context.Context, id uuid.UUID) (*Pet, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, owner_id, name, species, breed, created_at, updated_at
		FROM pets
		WHERE id = $1
	`, id)
	return scanPet(row)
}

func (r *PgRepository) CreateVet(ctx context.Context, v Vet) (*Vet, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO vets (id, user_id, name, email, phone, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, user_id, name, email, phone, specialty, created_at, updated_at
	`, v.ID, v.UserID, v.Name, nullable(v.Email), nullable(v.Phone), nullable(v.Specialty))
	return scanVet(row)
}

func (r *PgRepository) CreatePetParent(ctx context.Context, p PetParent) (*PetParent, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pet_parents (id, user_id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, user_id, name, email, phone, created_at, updated_at
	`, p.ID, p.UserID, p.Name, nullable(p.Email), nullable(p.Phone))
	return scanPetParent(row)
}

func (r *PgRepository) CreatePet(ctx context.Context, p Pet) (*Pet, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pets (id, owner_id, name, species, breed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, owner_id, name, species, breed, created_at, updated_at
	`, p.ID, p.OwnerID, p.Name, p.Species, nullable(p.Breed))
	return scanPet(row)
}

// Appointments

func (r *PgRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (
			id, provider_id, requester_id, pet_id, slot_id, subscription_id, scheduled_at, ends_at,
			timezone, fee, type, payment_status, status, concerns, notes, is_follow_up, meeting_link,
			deleted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, false, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ProviderID, a.RequesterID, a.PetID, a.SlotID, a.SubscriptionID, a.ScheduledAt, a.EndsAt,
		a.Timezone, a.Fee, a.Type, a.PaymentStatus, a.Status, a.Concerns, a.Notes, a.IsFollowUp, a.MeetingLink)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activePerSlotConstraint) {
			return nil, slot.ErrSlotNotAvailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND NOT deleted
		RETURNING `+appointmentColumns, id, to, from, nullable(reason))

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET deleted = true,
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'scheduled'
		RETURNING `+appointmentColumns, id)

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("soft delete appointment: %w", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}

// whereClause renders f as SQL conditions with positional args.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.IncludeDeleted {
		conds = append(conds, "NOT deleted")
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ProviderID != uuid.Nil {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.RequesterID != uuid.Nil {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.PetID != uuid.Nil {
		add("pet_id = $%d", f.PetID)
	}
	if !f.From.IsZero() {
		add("scheduled_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("scheduled_at < $%d", f.To)
	}
	if f.MinFee != nil {
		add("fee >= $%d", *f.MinFee)
	}
	if f.MaxFee != nil {
		add("fee <= $%d", *f.MaxFee)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) List(ctx context.Context, f Filter, p page.Request) (page.Result[Appointment], error) {
	q := db.Executor(ctx, r.pool)
	where, args := whereClause(f)

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return page.Result[Appointment]{}, fmt.Errorf("count appointments: %w", err)
	}

	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	args = append(args, p.Limit, p.Offset())
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY scheduled_at %s, id
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, order, len(args)-1, len(args)), args...)
	if err != nil {
		return page.Result[Appointment]{}, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return page.Result[Appointment]{}, err
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return page.Result[Appointment]{}, err
	}
	return page.NewResult(items, total, p), nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.Executor(ctx, r.pool).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
