package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/page"
	"github.com/hackgods/vet-telehealth/internal/review"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type DeactivateRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	ProviderID     uuid.UUID  `json:"providerId"`
	RequesterID    uuid.UUID  `json:"requesterId"`
	PetID          uuid.UUID  `json:"petId"`
	SlotID         uuid.UUID  `json:"slotId"`
	SubscriptionID *uuid.UUID `json:"subscriptionId,omitempty"`
	ScheduledAt    time.Time  `json:"scheduledAt"`
	EndsAt         time.Time  `json:"endsAt"`
	Timezone       string     `json:"timezone"`
	Fee            float64    `json:"fee"`
	Type           string     `json:"type"`
	PaymentStatus  string     `json:"paymentStatus"`
	Status         string     `json:"status"`
	Concerns       []string   `json:"concerns"`
	Notes          string     `json:"notes,omitempty"`
	IsFollowUp     bool       `json:"isFollowUp"`
	MeetingLink    string     `json:"meetingLink"`
	CancelReason   string     `json:"cancelReason,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		ProviderID:     a.ProviderID,
		RequesterID:    a.RequesterID,
		PetID:          a.PetID,
		SlotID:         a.SlotID,
		SubscriptionID: a.SubscriptionID,
		ScheduledAt:    a.ScheduledAt,
		EndsAt:         a.EndsAt,
		Timezone:       a.Timezone,
		Fee:            a.Fee,
		Type:           string(a.Type),
		PaymentStatus:  string(a.PaymentStatus),
		Status:         string(a.Status),
		Concerns:       a.Concerns,
		Notes:          a.Notes,
		IsFollowUp:     a.IsFollowUp,
		MeetingLink:    a.MeetingLink,
		CancelReason:   a.CancelReason,
		Deleted:        a.Deleted,
		CreatedAt:      a.CreatedAt,
	}
}

type ParticipantResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
}

type PetResponse struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Species string    `json:"species,omitempty"`
	Breed   string    `json:"breed,omitempty"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Vet       ParticipantResponse `json:"vet"`
	PetParent ParticipantResponse `json:"petParent"`
	Pet       PetResponse         `json:"pet"`
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(d.Appointment),
		Vet:                 ParticipantResponse{ID: d.Vet.ID, Name: d.Vet.Name, Email: d.Vet.Email},
		PetParent:           ParticipantResponse{ID: d.PetParent.ID, Name: d.PetParent.Name, Email: d.PetParent.Email},
		Pet:                 PetResponse{ID: d.Pet.ID, Name: d.Pet.Name, Species: d.Pet.Species, Breed: d.Pet.Breed},
	}
}

type PageResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func toPageResponse[S, T any](r page.Result[S], conv func(S) T) PageResponse[T] {
	items := make([]T, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, conv(it))
	}
	return PageResponse[T]{Items: items, Total: r.Total, Page: r.Page, Limit: r.Limit, Pages: r.Pages()}
}

type QuotaResponse struct {
	PetParentID     uuid.UUID  `json:"petParentId"`
	Year            int        `json:"year"`
	HasSubscription bool       `json:"hasSubscription"`
	SubscriptionID  *uuid.UUID `json:"subscriptionId,omitempty"`
	Remaining       int        `json:"remaining"`
	Max             int        `json:"max"`
	Expired         bool       `json:"expired"`
	Available       bool       `json:"available"`
	LowQuota        bool       `json:"lowQuota"`
}

func toQuotaResponse(parentID uuid.UUID, q subscription.QuotaStatus) QuotaResponse {
	resp := QuotaResponse{
		PetParentID:     parentID,
		Year:            q.Year,
		HasSubscription: q.HasSubscription,
		Remaining:       q.Remaining,
		Max:             q.Max,
		Expired:         q.Expired,
		Available:       q.Available,
		LowQuota:        q.LowQuota,
	}
	if q.SubscriptionID != uuid.Nil {
		id := q.SubscriptionID
		resp.SubscriptionID = &id
	}
	return resp
}

type SubscriptionResponse struct {
	ID                    uuid.UUID   `json:"id"`
	PetParentID           uuid.UUID   `json:"petParentId"`
	CalendarYear          int         `json:"calendarYear"`
	StartDate             time.Time   `json:"startDate"`
	EndDate               time.Time   `json:"endDate"`
	MaxAppointments       int         `json:"maxAppointments"`
	RemainingAppointments int         `json:"remainingAppointments"`
	AppointmentIDs        []uuid.UUID `json:"appointmentIds"`
	Active                bool        `json:"active"`
	IsResubscription      bool        `json:"isResubscription"`
	ResubscriptionCount   int         `json:"resubscriptionCount"`
}

func toSubscriptionResponse(s *subscription.Subscription) SubscriptionResponse {
	ids := s.AppointmentIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return SubscriptionResponse{
		ID:                    s.ID,
		PetParentID:           s.PetParentID,
		CalendarYear:          s.CalendarYear,
		StartDate:             s.StartDate,
		EndDate:               s.EndDate,
		MaxAppointments:       s.MaxAppointments,
		RemainingAppointments: s.RemainingAppointments,
		AppointmentIDs:        ids,
		Active:                s.Active,
		IsResubscription:      s.IsResubscription,
		ResubscriptionCount:   s.ResubscriptionCount,
	}
}

type SlotStatsResponse struct {
	ProviderID uuid.UUID `json:"providerId"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Available  int       `json:"available"`
	Booked     int       `json:"booked"`
	Disabled   int       `json:"disabled"`
	Total      int       `json:"total"`
}

func toSlotStatsResponse(st *slot.Stats) SlotStatsResponse {
	return SlotStatsResponse{
		ProviderID: st.ProviderID,
		From:       st.From,
		To:         st.To,
		Available:  st.Available,
		Booked:     st.Booked,
		Disabled:   st.Disabled,
		Total:      st.Total,
	}
}

type ReviewResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	ProviderID    uuid.UUID `json:"providerId"`
	Rating        int       `json:"rating"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toReviewResponse(r review.Review) ReviewResponse {
	return ReviewResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		ProviderID:    r.ProviderID,
		Rating:        r.Rating,
		Comment:       r.Comment,
		CreatedAt:     r.CreatedAt,
	}
}

type ReviewListResponse struct {
	PageResponse[ReviewResponse]
	Average *float64 `json:"average,omitempty"`
}

type NotificationResponse struct {
	ID            uuid.UUID  `json:"id"`
	Kind          string     `json:"kind"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	Read          bool       `json:"read"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toNotificationResponse(r notification.Record) NotificationResponse {
	return NotificationResponse{
		ID:            r.ID,
		Kind:          r.Kind,
		Title:         r.Title,
		Body:          r.Body,
		AppointmentID: r.AppointmentID,
		Read:          r.Read,
		CreatedAt:     r.CreatedAt,
	}
}

type WebhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Event     string `json:"event,omitempty"`
}
