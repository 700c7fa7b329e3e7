package subscription

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Subscription is one annual quota ledger entry. Once inactive it is history
// and is never mutated again.
type Subscription struct {
	ID                    uuid.UUID
	PetParentID           uuid.UUID
	ExternalID            string // subscription id at the payment provider
	DonationRef           string // originating payment/donation
	CalendarYear          int
	StartDate             time.Time
	EndDate               time.Time
	MaxAppointments       int
	RemainingAppointments int
	AppointmentIDs        []uuid.UUID // consumption order
	Active                bool
	IsResubscription      bool
	ResubscriptionCount   int
	PaymentRefs           []string
	Metadata              map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Consistent reports whether the quota counters agree with the consumed list.
func (s Subscription) Consistent() bool {
	if s.RemainingAppointments < 0 || s.RemainingAppointments > s.MaxAppointments {
		return false
	}
	if len(s.AppointmentIDs) != s.MaxAppointments-s.RemainingAppointments {
		return false
	}
	seen := make(map[uuid.UUID]struct{}, len(s.AppointmentIDs))
	for _, id := range s.AppointmentIDs {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func (s Subscription) ExpiredAt(now time.Time) bool {
	return now.After(s.EndDate)
}

func (s Subscription) Consumed(appointmentID uuid.UUID) bool {
	return slices.Contains(s.AppointmentIDs, appointmentID)
}

func (s Subscription) clone() Subscription {
	c := s
	c.AppointmentIDs = slices.Clone(s.AppointmentIDs)
	c.PaymentRefs = slices.Clone(s.PaymentRefs)
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

type CreateInput struct {
	PetParentID  uuid.UUID
	ExternalID   string
	DonationRef  string
	StartDate    time.Time
	CalendarYear int // defaults to the UTC year of StartDate
	PaymentRefs  []string
	Metadata     map[string]any
}

func (in CreateInput) year() int {
	if in.CalendarYear != 0 {
		return in.CalendarYear
	}
	return in.StartDate.UTC().Year()
}

// QuotaStatus answers the quota check for one pet parent and year.
type QuotaStatus struct {
	Year            int
	HasSubscription bool
	SubscriptionID  uuid.UUID
	Remaining       int
	Max             int
	Expired         bool
	Available       bool // an unexpired active record with remaining > 0
	LowQuota        bool // active record with remaining <= the low quota threshold
}
