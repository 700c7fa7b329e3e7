package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
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

func (r *PgRepository) Insert(ctx context.Context, rec Record) (*Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, appointment_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now())
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.Kind, rec.Title, rec.Body, rec.AppointmentID).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &rec, nil
}

func (r *PgRepository) ListForUser(ctx context.Context, userID uuid.UUID, p page.Request) (page.Result[Record], error) {
	q := db.Executor(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return page.Result[Record]{}, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, user_id, kind, title, body, appointment_id, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, p.Limit, p.Offset())
	if err != nil {
		return page.Result[Record]{}, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Kind, &rec.Title, &rec.Body, &rec.AppointmentID, &rec.Read, &rec.CreatedAt); err != nil {
			return page.Result[Record]{}, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return page.Result[Record]{}, err
	}
	return page.NewResult(items, total, p), nil
}
