package slot

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound     = errors.New("slot not found")
	ErrSlotNotAvailable = errors.New("slot not available")
	ErrSlotNotBooked    = errors.New("slot is not booked")
)

// Store owns slot status. Reserve and Release are the only status transitions
// a booking flow may perform, and both are single conditional writes.
type Store interface {
	// Reserve flips available -> booked for the slot of providerID. It never
	// waits or retries: a slot that is booked, disabled or held by another
	// in-flight booking returns ErrSlotNotAvailable.
	Reserve(ctx context.Context, slotID, providerID uuid.UUID) (*Slot, error)
	// Release flips booked -> available.
	Release(ctx context.Context, slotID uuid.UUID) (*Slot, error)

	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	Create(ctx context.Context, s Slot) (*Slot, error)
	// Stats counts slots of providerID with from <= date <= to. Empty bounds are open.
	Stats(ctx context.Context, providerID uuid.UUID, from, to string) (*Stats, error)
}
