package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("payment already recorded")
)

type Repository interface {
	Insert(ctx context.Context, p Payment) (*Payment, error)
	GetByExternalRef(ctx context.Context, ref string) (*Payment, error)
	LatestSucceeded(ctx context.Context, petParentID uuid.UUID) (*Payment, error)
}
