package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleVet       Role = "vet"
	RolePetParent Role = "pet_parent"
	RoleAdmin     Role = "admin"
)

// Identity is the resolved caller. RefID is the vet or pet parent id linked to
// the account, uuid.Nil for admins.
type Identity struct {
	UserID uuid.UUID
	Role   Role
	RefID  uuid.UUID
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller attached by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
