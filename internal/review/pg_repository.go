package review

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/page"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const reviewColumns = `id, appointment_id, provider_id, pet_parent_id, rating, comment, created_at`

func scanReview(row pgx.Row) (*Review, error) {
	var r Review
	if err := row.Scan(&r.ID, &r.AppointmentID, &r.ProviderID, &r.PetParentID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PgRepository) Insert(ctx context.Context, rv Review) (*Review, error) {
	if rv.ID == uuid.Nil {
		rv.ID = uuid.New()
	}
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reviews (id, appointment_id, provider_id, pet_parent_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+reviewColumns,
		rv.ID, rv.AppointmentID, rv.ProviderID, rv.PetParentID, rv.Rating, rv.Comment)

	created, err := scanReview(row)
	if err != nil {
		if db.IsUniqueViolation(err, "reviews_appointment_id_key") {
			return nil, ErrDuplicateReview
		}
		return nil, fmt.Errorf("insert review: %w", err)
	}
	return created, nil
}

func (r *PgRepository) List(ctx context.Context, f Filter, p page.Request) (page.Result[Review], error) {
	where := `WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR provider_id = $1) AND rating >= $2`
	exec := db.Executor(ctx, r.pool)

	var total int
	if err := exec.QueryRow(ctx, `SELECT count(*) FROM reviews `+where, f.ProviderID, f.MinRating).Scan(&total); err != nil {
		return page.Result[Review]{}, fmt.Errorf("count reviews: %w", err)
	}

	rows, err := exec.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews `+where+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, f.ProviderID, f.MinRating, p.Limit, p.Offset())
	if err != nil {
		return page.Result[Review]{}, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var items []Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return page.Result[Review]{}, err
		}
		items = append(items, *rv)
	}
	if err := rows.Err(); err != nil {
		return page.Result[Review]{}, err
	}
	return page.NewResult(items, total, p), nil
}

func (r *PgRepository) Summary(ctx context.Context, providerID uuid.UUID) (*Summary, error) {
	s := Summary{ProviderID: providerID}
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*), COALESCE(avg(rating), 0)::float8
		FROM reviews
		WHERE provider_id = $1
	`, providerID).Scan(&s.Count, &s.Average)
	if err != nil {
		return nil, fmt.Errorf("review summary: %w", err)
	}
	return &s, nil
}
