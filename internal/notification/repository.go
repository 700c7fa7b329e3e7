package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/page"
)

// Repository stores in-app notification records.
type Repository interface {
	Insert(ctx context.Context, r Record) (*Record, error)
	ListForUser(ctx context.Context, userID uuid.UUID, p page.Request) (page.Result[Record], error)
}
