// Package review holds pet parents' ratings of completed consultations.
package review

import (
	"time"

	"github.com/google/uuid"
)

type Review struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	ProviderID    uuid.UUID
	PetParentID   uuid.UUID
	Rating        int
	Comment       string
	CreatedAt     time.Time
}

type CreateRequest struct {
	AppointmentID string `json:"appointmentId" validate:"required,uuid"`
	Rating        int    `json:"rating" validate:"required,min=1,max=5"`
	Comment       string `json:"comment" validate:"max=2000"`
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	ProviderID uuid.UUID
	MinRating  int
}

func (f Filter) matches(r Review) bool {
	if f.ProviderID != uuid.Nil && r.ProviderID != f.ProviderID {
		return false
	}
	return r.Rating >= f.MinRating
}

// Summary aggregates a provider's ratings.
type Summary struct {
	ProviderID uuid.UUID
	Count      int
	Average    float64
}
