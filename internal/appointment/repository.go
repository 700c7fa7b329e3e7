package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/page"
)

var (
	ErrVetNotFound         = errors.New("vet not found")
	ErrPetParentNotFound   = errors.New("pet parent not found")
	ErrPetNotFound         = errors.New("pet not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrStatusConflict      = errors.New("appointment is not in the expected status")
)

// Directory resolves the participants of a booking.
type Directory interface {
	GetVet(ctx context.Context, id uuid.UUID) (*Vet, error)
	GetVetByUserID(ctx context.Context, userID uuid.UUID) (*Vet, error)
	GetPetParent(ctx context.Context, id uuid.UUID) (*PetParent, error)
	GetPetParentByUserID(ctx context.Context, userID uuid.UUID) (*PetParent, error)
	GetPet(ctx context.Context, id uuid.UUID) (*Pet, error)
}

// Repository contains all DB interactions needed by the coordinator and the
// query layer.
type Repository interface {
	Directory

	CreateVet(ctx context.Context, v Vet) (*Vet, error)
	CreatePetParent(ctx context.Context, p PetParent) (*PetParent, error)
	CreatePet(ctx context.Context, p Pet) (*Pet, error)

	// Insert fails with slot.ErrSlotNotAvailable when another active
	// appointment already references the slot.
	Insert(ctx context.Context, a Appointment) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus is conditional on the current status; ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f Filter, p page.Request) (page.Result[Appointment], error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
