package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Active reports whether the appointment still holds its slot.
func (s Status) Active() bool { return s == StatusScheduled }

type Type string

const (
	TypeVideoConsultation Type = "video_consultation"
	TypeFollowUp          Type = "follow_up"
	TypeTriage            Type = "triage"
)

type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "pending"
	PaymentPaid         PaymentStatus = "paid"
	PaymentSubscription PaymentStatus = "subscription"
	PaymentWaived       PaymentStatus = "waived"
)

type Vet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Email     string
	Phone     string
	Specialty string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PetParent struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Pet struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Species   string
	Breed     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID             uuid.UUID
	ProviderID     uuid.UUID
	RequesterID    uuid.UUID
	PetID          uuid.UUID
	SlotID         uuid.UUID
	SubscriptionID *uuid.UUID // set only for quota-funded bookings
	ScheduledAt    time.Time  // UTC
	EndsAt         time.Time  // UTC
	Timezone       string     // the slot's zone, for display
	Fee            float64
	Type           Type
	PaymentStatus  PaymentStatus
	Status         Status
	Concerns       []string
	Notes          string
	IsFollowUp     bool
	MeetingLink    string
	CancelReason   string
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Vet       *Vet
	PetParent *PetParent
	Pet       *Pet
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Status         Status
	ProviderID     uuid.UUID
	RequesterID    uuid.UUID
	PetID          uuid.UUID
	From           time.Time // scheduled at or after
	To             time.Time // scheduled before
	MinFee         *float64
	MaxFee         *float64
	IncludeDeleted bool
	Ascending      bool // default is newest first
}

func (f Filter) matches(a Appointment) bool {
	switch {
	case a.Deleted && !f.IncludeDeleted:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.ProviderID != uuid.Nil && a.ProviderID != f.ProviderID:
		return false
	case f.RequesterID != uuid.Nil && a.RequesterID != f.RequesterID:
		return false
	case f.PetID != uuid.Nil && a.PetID != f.PetID:
		return false
	case !f.From.IsZero() && a.ScheduledAt.Before(f.From):
		return false
	case !f.To.IsZero() && !a.ScheduledAt.Before(f.To):
		return false
	case f.MinFee != nil && a.Fee < *f.MinFee:
		return false
	case f.MaxFee != nil && a.Fee > *f.MaxFee:
		return false
	}
	return true
}
