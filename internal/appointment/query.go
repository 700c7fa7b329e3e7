package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/page"
)

// List returns the caller's appointments. Vets and pet parents only see their
// own; admins may filter freely and see soft-deleted rows on request.
func (c *Coordinator) List(ctx context.Context, f Filter, p page.Request) (page.Result[Appointment], error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return page.Result[Appointment]{}, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	if !caller.IsAdmin() {
		ref, err := c.participantRef(ctx, caller)
		if err != nil {
			return page.Result[Appointment]{}, err
		}
		switch caller.Role {
		case auth.RoleVet:
			f.ProviderID = ref
		case auth.RolePetParent:
			f.RequesterID = ref
		}
		f.IncludeDeleted = false
	}

	res, err := c.repo.List(ctx, f, page.Normalize(p.Page, p.Limit))
	if err != nil {
		return page.Result[Appointment]{}, fmt.Errorf("list appointments: %w", err)
	}
	return res, nil
}

// Get returns one appointment with its participants.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	a, err := c.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", err)
		}
		return nil, err
	}
	if a.Deleted && !caller.IsAdmin() {
		return nil, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", ErrAppointmentNotFound)
	}
	if !caller.IsAdmin() {
		ref, err := c.participantRef(ctx, caller)
		if err != nil {
			return nil, err
		}
		if ref != a.ProviderID && ref != a.RequesterID {
			return nil, apperr.New(apperr.CodeForbidden, "not a participant of this appointment")
		}
	}

	d := &AppointmentDetail{Appointment: *a}
	if d.Vet, err = c.repo.GetVet(ctx, a.ProviderID); err != nil {
		return nil, fmt.Errorf("load vet: %w", err)
	}
	if d.PetParent, err = c.repo.GetPetParent(ctx, a.RequesterID); err != nil {
		return nil, fmt.Errorf("load pet parent: %w", err)
	}
	if d.Pet, err = c.repo.GetPet(ctx, a.PetID); err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	return d, nil
}

// VerifyMeetingLink reports whether link opens the room of appointment id.
// Cancelled and deleted appointments have no valid room.
func (c *Coordinator) VerifyMeetingLink(ctx context.Context, id uuid.UUID, link string) (bool, error) {
	a, err := c.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return false, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", err)
		}
		return false, err
	}
	if a.Deleted || a.Status == StatusCancelled {
		return false, nil
	}
	return c.links.Verify(link, *a), nil
}
