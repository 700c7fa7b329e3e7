package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/auth"
)

// Resolution records which path identified a participant.
type Resolution string

const (
	ResolvedExplicit  Resolution = "explicit"
	ResolvedBySession Resolution = "session"
	NotResolved       Resolution = "not_found"
)

type Resolved[T any] struct {
	Value *T
	Via   Resolution
}

func (r Resolved[T]) Found() bool { return r.Value != nil }

// Resolver identifies a participant first by the submitted id and then by the
// caller's own session, so self-bookings work with either id.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

func resolve[T any](
	ctx context.Context,
	explicit uuid.UUID,
	caller auth.Identity,
	byID func(context.Context, uuid.UUID) (*T, error),
	byUser func(context.Context, uuid.UUID) (*T, error),
	notFound error,
) (Resolved[T], error) {
	if explicit != uuid.Nil {
		v, err := byID(ctx, explicit)
		if err == nil {
			return Resolved[T]{Value: v, Via: ResolvedExplicit}, nil
		}
		if !errors.Is(err, notFound) {
			return Resolved[T]{}, err
		}
	}

	if caller.UserID != uuid.Nil {
		v, err := byUser(ctx, caller.UserID)
		if err == nil {
			return Resolved[T]{Value: v, Via: ResolvedBySession}, nil
		}
		if !errors.Is(err, notFound) {
			return Resolved[T]{}, err
		}
	}
	return Resolved[T]{Via: NotResolved}, nil
}

func (r *Resolver) Vet(ctx context.Context, explicit uuid.UUID, caller auth.Identity) (Resolved[Vet], error) {
	return resolve(ctx, explicit, caller, r.dir.GetVet, r.dir.GetVetByUserID, ErrVetNotFound)
}

func (r *Resolver) PetParent(ctx context.Context, explicit uuid.UUID, caller auth.Identity) (Resolved[PetParent], error) {
	return resolve(ctx, explicit, caller, r.dir.GetPetParent, r.dir.GetPetParentByUserID, ErrPetParentNotFound)
}
