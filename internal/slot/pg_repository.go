package slot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/vet-telehealth/internal/db"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const slotColumns = `id, provider_id, slot_date, start_time, end_time, timezone, status, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Timezone,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

// Reserve is the booking linearization point. Rows locked by a concurrent
// booking are skipped rather than waited on, so the loser fails immediately.
func (r *PgStore) Reserve(ctx context.Context, slotID, providerID uuid.UUID) (*Slot, error) {
	q := db.Executor(ctx, r.pool)

	row := q.QueryRow(ctx, `
		WITH target AS (
			SELECT id FROM slots
			WHERE id = $1 AND provider_id = $2 AND status = 'available'
			FOR UPDATE SKIP LOCKED
		)
		UPDATE slots s
		SET status = 'booked',
		    updated_at = now()
		FROM target
		WHERE s.id = target.id
		RETURNING s.id, s.provider_id, s.slot_date, s.start_time, s.end_time, s.timezone, s.status, s.created_at, s.updated_at
	`, slotID, providerID)

	s, err := scanSlot(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1 AND provider_id = $2)
	`, slotID, providerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if !exists {
		return nil, ErrSlotNotFound
	}
	return nil, ErrSlotNotAvailable
}

func (r *PgStore) Release(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	q := db.Executor(ctx, r.pool)

	row := q.QueryRow(ctx, `
		UPDATE slots
		SET status = 'available',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
		RETURNING `+slotColumns, slotID)

	s, err := scanSlot(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("release slot: %w", err)
	}

	if _, err := r.Get(ctx, slotID); err != nil {
		return nil, err
	}
	return nil, ErrSlotNotBooked
}

func (r *PgStore) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgStore) Create(ctx context.Context, s Slot) (*Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusAvailable
	}

	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO slots (id, provider_id, slot_date, start_time, end_time, timezone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+slotColumns,
		s.ID, s.ProviderID, s.Date, s.StartTime, s.EndTime, s.Timezone, s.Status)

	created, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (r *PgStore) Stats(ctx context.Context, providerID uuid.UUID, from, to string) (*Stats, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT status, count(*)
		FROM slots
		WHERE provider_id = $1
		  AND ($2 = '' OR slot_date >= $2)
		  AND ($3 = '' OR slot_date <= $3)
		GROUP BY status
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("slot stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{ProviderID: providerID, From: from, To: to}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.add(status, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return st, nil
}
