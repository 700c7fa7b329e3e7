package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/page"
	"github.com/hackgods/vet-telehealth/internal/validation"
)

// Appointments is what reviews need from the appointment store.
type Appointments interface {
	appointment.Directory
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Service struct {
	repo  Repository
	appts Appointments
	log   zerolog.Logger
}

func NewService(repo Repository, appts Appointments, log zerolog.Logger) *Service {
	return &Service{repo: repo, appts: appts, log: log.With().Str("component", "reviews").Logger()}
}

// Create records the requester's rating of a completed appointment. Each
// appointment can be reviewed once.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Review, error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	req.Comment = strings.TrimSpace(req.Comment)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	apptID := uuid.MustParse(req.AppointmentID)

	a, err := s.appts.Get(ctx, apptID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			return nil, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", err)
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if a.Deleted {
		return nil, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", appointment.ErrAppointmentNotFound)
	}

	if caller.Role != auth.RolePetParent {
		return nil, apperr.New(apperr.CodeForbidden, "only the pet parent can review an appointment")
	}
	ref, err := appointment.ParticipantRef(ctx, s.appts, caller)
	if err != nil {
		return nil, err
	}
	if ref != a.RequesterID {
		return nil, apperr.New(apperr.CodeForbidden, "only the pet parent can review an appointment")
	}
	if a.Status != appointment.StatusCompleted {
		return nil, apperr.New(apperr.CodeInvalidStatusTransition, "only completed appointments can be reviewed")
	}

	created, err := s.repo.Insert(ctx, Review{
		AppointmentID: a.ID,
		ProviderID:    a.ProviderID,
		PetParentID:   a.RequesterID,
		Rating:        req.Rating,
		Comment:       req.Comment,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReview) {
			return nil, apperr.Wrap(apperr.CodeReviewExists, "appointment already reviewed", err)
		}
		return nil, err
	}

	s.log.Info().
		Str("review_id", created.ID.String()).
		Str("appointment_id", a.ID.String()).
		Int("rating", created.Rating).
		Msg("review created")
	return created, nil
}

func (s *Service) List(ctx context.Context, f Filter, p page.Request) (page.Result[Review], error) {
	return s.repo.List(ctx, f, page.Normalize(p.Page, p.Limit))
}

func (s *Service) Summary(ctx context.Context, providerID uuid.UUID) (*Summary, error) {
	return s.repo.Summary(ctx, providerID)
}
