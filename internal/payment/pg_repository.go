package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/vet-telehealth/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const paymentColumns = `id, pet_parent_id, external_ref, kind, amount, currency, status, paid_at, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PetParentID, &p.ExternalRef, &p.Kind, &p.Amount, &p.Currency, &p.Status, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) Insert(ctx context.Context, p Payment) (*Payment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (id, pet_parent_id, external_ref, kind, amount, currency, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+paymentColumns,
		p.ID, p.PetParentID, p.ExternalRef, p.Kind, p.Amount, p.Currency, p.Status, p.PaidAt)

	created, err := scanPayment(row)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrDuplicatePayment
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByExternalRef(ctx context.Context, ref string) (*Payment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE external_ref = $1
	`, ref)
	return scanPayment(row)
}

func (r *PgRepository) LatestSucceeded(ctx context.Context, petParentID uuid.UUID) (*Payment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE pet_parent_id = $1 AND status = 'succeeded'
		ORDER BY paid_at DESC
		LIMIT 1
	`, petParentID)
	return scanPayment(row)
}
