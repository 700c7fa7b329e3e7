package review

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/page"
)

var ErrDuplicateReview = errors.New("appointment already reviewed")

type Repository interface {
	// Insert fails with ErrDuplicateReview for a second review of one appointment.
	Insert(ctx context.Context, r Review) (*Review, error)
	List(ctx context.Context, f Filter, p page.Request) (page.Result[Review], error)
	Summary(ctx context.Context, providerID uuid.UUID) (*Summary, error)
}
