package appointment

import (
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/validation"
)

// BookRequest is the booking contract. Ids stay strings so malformed values
// are reported per field rather than as a decode failure.
type BookRequest struct {
	ProviderID      string   `json:"providerId" validate:"required,uuid"`
	RequesterID     string   `json:"requesterId" validate:"required,uuid"`
	PetID           string   `json:"petId" validate:"required,uuid"`
	SlotID          string   `json:"slotId" validate:"required,uuid"`
	Fee             *float64 `json:"fee" validate:"required,gte=0,lte=99999999.99"`
	Concerns        []string `json:"concerns" validate:"required,min=1,max=20,dive,required,max=500"`
	Notes           string   `json:"notes" validate:"max=2000"`
	Type            string   `json:"type" validate:"omitempty,oneof=video_consultation follow_up triage"`
	PaymentStatus   string   `json:"paymentStatus" validate:"omitempty,oneof=pending paid subscription waived"`
	IsFollowUp      bool     `json:"isFollowUp"`
	UseSubscription bool     `json:"useSubscription"`
}

// normalize trims free text so blank concerns fail "required".
func (r BookRequest) normalize() BookRequest {
	if r.Concerns != nil {
		trimmed := make([]string, len(r.Concerns))
		for i, c := range r.Concerns {
			trimmed[i] = strings.TrimSpace(c)
		}
		r.Concerns = trimmed
	}
	r.Notes = strings.TrimSpace(r.Notes)
	return r
}

// parsed is a validated BookRequest.
type parsed struct {
	providerID    uuid.UUID
	requesterID   uuid.UUID
	petID         uuid.UUID
	slotID        uuid.UUID
	fee           float64
	concerns      []string
	notes         string
	typ           Type
	paymentStatus PaymentStatus
	isFollowUp    bool
	quotaFunded   bool
}

// Validate checks the request shape and returns the typed form. Failures are
// VALIDATION_ERROR with a field map.
func (r BookRequest) Validate() (parsed, error) {
	r = r.normalize()
	if err := validation.Struct(r); err != nil {
		return parsed{}, err
	}

	p := parsed{
		providerID:    uuid.MustParse(r.ProviderID),
		requesterID:   uuid.MustParse(r.RequesterID),
		petID:         uuid.MustParse(r.PetID),
		slotID:        uuid.MustParse(r.SlotID),
		fee:           *r.Fee,
		concerns:      r.Concerns,
		notes:         r.Notes,
		typ:           Type(r.Type),
		paymentStatus: PaymentStatus(r.PaymentStatus),
		isFollowUp:    r.IsFollowUp,
	}
	if p.typ == "" {
		p.typ = TypeVideoConsultation
		if p.isFollowUp {
			p.typ = TypeFollowUp
		}
	}
	p.quotaFunded = r.UseSubscription || p.paymentStatus == PaymentSubscription
	if p.quotaFunded {
		p.paymentStatus = PaymentSubscription
	}
	if p.paymentStatus == "" {
		p.paymentStatus = PaymentPending
	}
	return p, nil
}
