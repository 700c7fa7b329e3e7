package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/payment"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
)

// Ledger is the quota side of a booking.
type Ledger interface {
	ConsumeForYear(ctx context.Context, petParentID uuid.UUID, year int, appointmentID uuid.UUID) (*subscription.Subscription, error)
	Restore(ctx context.Context, subscriptionID, appointmentID uuid.UUID) (*subscription.Subscription, error)
}

// ReceiptSource finds the payment a confirmation receipt is rendered from.
type ReceiptSource interface {
	LatestSucceeded(ctx context.Context, petParentID uuid.UUID) (*payment.Payment, error)
}

type Deps struct {
	Repo     Repository
	Slots    slot.Store
	Ledger   Ledger
	Records  notification.Repository
	Notifier notification.Dispatcher
	Receipts ReceiptSource // optional
	Tx       db.Transactor
	Links    *MeetingLinks
	Log      zerolog.Logger
}

// Coordinator runs bookings and their lifecycle transitions. Every data
// mutation of one operation commits as a single unit; notifications run only
// after commit and never affect the outcome.
type Coordinator struct {
	repo     Repository
	slots    slot.Store
	ledger   Ledger
	records  notification.Repository
	notifier notification.Dispatcher
	receipts ReceiptSource
	tx       db.Transactor
	links    *MeetingLinks
	resolver *Resolver
	log      zerolog.Logger
	async    bool
}

func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		repo:     d.Repo,
		slots:    d.Slots,
		ledger:   d.Ledger,
		records:  d.Records,
		notifier: d.Notifier,
		receipts: d.Receipts,
		tx:       d.Tx,
		links:    d.Links,
		resolver: NewResolver(d.Repo),
		log:      d.Log.With().Str("component", "booking_coordinator").Logger(),
		async:    true,
	}
}

// booking carries what post-commit side effects need.
type booking struct {
	appt   *Appointment
	vet    *Vet
	parent *PetParent
	pet    *Pet
}

// Book reserves the slot and records the appointment, its quota consumption,
// the provider's notification record and the audit event in one unit.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	in, err := req.Validate()
	if err != nil {
		return nil, err
	}

	var b booking
	err = c.tx.RunInTx(ctx, func(ctx context.Context) error {
		vet, err := c.resolver.Vet(ctx, in.providerID, caller)
		if err != nil {
			return fmt.Errorf("resolve vet: %w", err)
		}
		if !vet.Found() {
			return apperr.Wrap(apperr.CodeVetNotFound, "vet not found", ErrVetNotFound)
		}
		if caller.Role == auth.RoleVet {
			self, err := c.participantRef(ctx, caller)
			if err != nil {
				return err
			}
			if self != vet.Value.ID {
				return apperr.New(apperr.CodeForbidden, "vets can only book their own slots")
			}
		}

		s, err := c.slots.Reserve(ctx, in.slotID, vet.Value.ID)
		if err != nil {
			if errors.Is(err, slot.ErrSlotNotFound) || errors.Is(err, slot.ErrSlotNotAvailable) {
				return apperr.Wrap(apperr.CodeSlotNotAvailable, "slot is not available", err)
			}
			return fmt.Errorf("reserve slot: %w", err)
		}

		parent, err := c.resolver.PetParent(ctx, in.requesterID, caller)
		if err != nil {
			return fmt.Errorf("resolve pet parent: %w", err)
		}
		if !parent.Found() {
			return apperr.Wrap(apperr.CodePetOwnerNotFound, "pet owner not found", ErrPetParentNotFound)
		}
		if caller.Role == auth.RolePetParent {
			self, err := c.participantRef(ctx, caller)
			if err != nil {
				return err
			}
			if self != parent.Value.ID {
				return apperr.New(apperr.CodeForbidden, "pet parents can only book for themselves")
			}
		}

		pet, err := c.repo.GetPet(ctx, in.petID)
		if err != nil {
			if errors.Is(err, ErrPetNotFound) {
				return apperr.Wrap(apperr.CodePetNotFound, "pet not found", err)
			}
			return fmt.Errorf("load pet: %w", err)
		}
		if pet.OwnerID != parent.Value.ID {
			return apperr.New(apperr.CodePetNotFound, "pet does not belong to the requester")
		}

		c.log.Info().
			Str("slot_id", s.ID.String()).
			Str("vet_id", vet.Value.ID.String()).
			Str("vet_resolved", string(vet.Via)).
			Str("pet_parent_id", parent.Value.ID.String()).
			Str("pet_parent_resolved", string(parent.Via)).
			Msg("booking participants resolved")

		startsAt, err := s.StartsAt()
		if err != nil {
			return err
		}
		endsAt, err := s.EndsAt()
		if err != nil {
			return err
		}

		appt := Appointment{
			ID:            uuid.New(),
			ProviderID:    vet.Value.ID,
			RequesterID:   parent.Value.ID,
			PetID:         pet.ID,
			SlotID:        s.ID,
			ScheduledAt:   startsAt,
			EndsAt:        endsAt,
			Timezone:      s.Timezone,
			Fee:           in.fee,
			Type:          in.typ,
			PaymentStatus: in.paymentStatus,
			Status:        StatusScheduled,
			Concerns:      in.concerns,
			Notes:         in.notes,
			IsFollowUp:    in.isFollowUp,
		}
		appt.MeetingLink = c.links.Generate(appt)

		if in.quotaFunded {
			year, err := s.Year()
			if err != nil {
				return err
			}
			sub, err := c.ledger.ConsumeForYear(ctx, parent.Value.ID, year, appt.ID)
			if err != nil {
				if errors.Is(err, subscription.ErrQuotaExhausted) {
					return apperr.Wrap(apperr.CodeQuotaExhausted, fmt.Sprintf("no subscription quota left for %d", year), err)
				}
				return fmt.Errorf("consume quota: %w", err)
			}
			appt.SubscriptionID = &sub.ID
		}

		created, err := c.repo.Insert(ctx, appt)
		if err != nil {
			if errors.Is(err, slot.ErrSlotNotAvailable) {
				return apperr.Wrap(apperr.CodeSlotNotAvailable, "slot is not available", err)
			}
			return err
		}

		if _, err := c.records.Insert(ctx, notification.Record{
			UserID:        vet.Value.UserID,
			Kind:          notification.KindAppointmentBooked,
			Title:         "New appointment booked",
			Body:          fmt.Sprintf("%s booked %s for %s", parent.Value.Name, pet.Name, localTime(created)),
			AppointmentID: &created.ID,
		}); err != nil {
			return fmt.Errorf("insert notification record: %w", err)
		}

		if err := c.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
			"slot_id":             s.ID.String(),
			"provider_id":         created.ProviderID.String(),
			"requester_id":        created.RequesterID.String(),
			"provider_resolved":   vet.Via,
			"requester_resolved":  parent.Via,
			"subscription_funded": in.quotaFunded,
		}); err != nil {
			return err
		}

		b = booking{appt: created, vet: vet.Value, parent: parent.Value, pet: pet}
		bg := context.WithoutCancel(ctx)
		db.AfterCommit(ctx, func() {
			c.spawn("booking-notify", func() { c.notifyBooked(bg, b) })
		})
		return nil
	})
	if err != nil {
		c.log.Debug().Err(err).Str("slot_id", in.slotID.String()).Msg("booking aborted")
		return nil, err
	}

	c.log.Info().
		Str("appointment_id", b.appt.ID.String()).
		Str("slot_id", b.appt.SlotID.String()).
		Bool("subscription_funded", b.appt.SubscriptionID != nil).
		Msg("appointment booked")
	return b.appt, nil
}

// Cancel mirrors Book: the slot is released, consumed quota is restored and
// the appointment is marked cancelled in one unit.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	var b booking
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := c.loadForCaller(ctx, caller, id, true)
		if err != nil {
			return err
		}

		updated, err := c.repo.UpdateStatus(ctx, a.ID, StatusScheduled, StatusCancelled, reason)
		if err != nil {
			return transitionErr(err)
		}

		if _, err := c.slots.Release(ctx, a.SlotID); err != nil {
			return fmt.Errorf("release slot %s: %w", a.SlotID, err)
		}

		if a.SubscriptionID != nil {
			_, err := c.ledger.Restore(ctx, *a.SubscriptionID, a.ID)
			switch {
			case err == nil:
			case errors.Is(err, subscription.ErrSubscriptionInactive):
				// superseded records are history and keep their consumed list
				c.log.Warn().
					Str("appointment_id", a.ID.String()).
					Str("subscription_id", a.SubscriptionID.String()).
					Msg("quota not restored, subscription no longer active")
			default:
				return fmt.Errorf("restore quota: %w", err)
			}
		}

		vet, err := c.repo.GetVet(ctx, a.ProviderID)
		if err != nil {
			return fmt.Errorf("load vet: %w", err)
		}
		parent, err := c.repo.GetPetParent(ctx, a.RequesterID)
		if err != nil {
			return fmt.Errorf("load pet parent: %w", err)
		}

		for _, userID := range []uuid.UUID{vet.UserID, parent.UserID} {
			if _, err := c.records.Insert(ctx, notification.Record{
				UserID:        userID,
				Kind:          notification.KindAppointmentCancelled,
				Title:         "Appointment cancelled",
				Body:          fmt.Sprintf("The appointment on %s was cancelled", localTime(updated)),
				AppointmentID: &updated.ID,
			}); err != nil {
				return fmt.Errorf("insert notification record: %w", err)
			}
		}

		if err := c.logEvent(ctx, a.ID, EventAppointmentCancelled, map[string]any{
			"reason":       reason,
			"cancelled_by": caller.UserID.String(),
			"restored":     a.SubscriptionID != nil,
		}); err != nil {
			return err
		}

		b = booking{appt: updated, vet: vet, parent: parent}
		bg := context.WithoutCancel(ctx)
		db.AfterCommit(ctx, func() {
			c.spawn("cancel-notify", func() { c.notifyCancelled(bg, b) })
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	return b.appt, nil
}

// Complete marks a scheduled appointment as held. Only its vet or an admin may.
func (c *Coordinator) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return c.finish(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

// MarkNoShow records that the pet parent did not attend. The quota stays consumed.
func (c *Coordinator) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return c.finish(ctx, id, StatusNoShow, EventAppointmentNoShow)
}

func (c *Coordinator) finish(ctx context.Context, id uuid.UUID, to Status, event string) (*Appointment, error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	if caller.Role != auth.RoleVet && !caller.IsAdmin() {
		return nil, apperr.New(apperr.CodeForbidden, "only the vet can close an appointment")
	}

	var out *Appointment
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := c.loadForCaller(ctx, caller, id, false)
		if err != nil {
			return err
		}
		out, err = c.repo.UpdateStatus(ctx, a.ID, StatusScheduled, to, "")
		if err != nil {
			return transitionErr(err)
		}
		return c.logEvent(ctx, a.ID, event, map[string]any{"by": caller.UserID.String()})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete hides a closed appointment. Active appointments must be cancelled first.
func (c *Coordinator) SoftDelete(ctx context.Context, id uuid.UUID) error {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return apperr.New(apperr.CodeUnauthorized, "authentication required")
	}

	return c.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := c.loadForCaller(ctx, caller, id, true)
		if err != nil {
			return err
		}
		if caller.Role == auth.RoleVet {
			return apperr.New(apperr.CodeForbidden, "vets cannot delete appointments")
		}
		if _, err := c.repo.SoftDelete(ctx, a.ID); err != nil {
			return transitionErr(err)
		}
		return c.logEvent(ctx, a.ID, EventAppointmentDeleted, map[string]any{"by": caller.UserID.String()})
	})
}

// loadForCaller returns the live appointment if the caller takes part in it.
// Pet parents are only allowed when allowRequester is set.
func (c *Coordinator) loadForCaller(ctx context.Context, caller auth.Identity, id uuid.UUID, allowRequester bool) (*Appointment, error) {
	a, err := c.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", err)
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if a.Deleted {
		return nil, apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", ErrAppointmentNotFound)
	}
	if caller.IsAdmin() {
		return a, nil
	}

	ref, err := c.participantRef(ctx, caller)
	if err != nil {
		return nil, err
	}
	switch {
	case caller.Role == auth.RoleVet && ref == a.ProviderID:
		return a, nil
	case caller.Role == auth.RolePetParent && allowRequester && ref == a.RequesterID:
		return a, nil
	}
	return nil, apperr.New(apperr.CodeForbidden, "not a participant of this appointment")
}

func (c *Coordinator) participantRef(ctx context.Context, caller auth.Identity) (uuid.UUID, error) {
	return ParticipantRef(ctx, c.repo, caller)
}

// ParticipantRef is the caller's vet or pet parent id, taken from the token or
// looked up by user id.
func ParticipantRef(ctx context.Context, dir Directory, caller auth.Identity) (uuid.UUID, error) {
	if caller.RefID != uuid.Nil {
		return caller.RefID, nil
	}
	switch caller.Role {
	case auth.RoleVet:
		v, err := dir.GetVetByUserID(ctx, caller.UserID)
		if err == nil {
			return v.ID, nil
		}
		if !errors.Is(err, ErrVetNotFound) {
			return uuid.Nil, err
		}
	case auth.RolePetParent:
		p, err := dir.GetPetParentByUserID(ctx, caller.UserID)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, ErrPetParentNotFound) {
			return uuid.Nil, err
		}
	}
	return uuid.Nil, apperr.New(apperr.CodeForbidden, "caller is not linked to a vet or pet parent")
}

func transitionErr(err error) error {
	if errors.Is(err, ErrStatusConflict) {
		return apperr.Wrap(apperr.CodeInvalidStatusTransition, "appointment cannot make this transition", err)
	}
	if errors.Is(err, ErrAppointmentNotFound) {
		return apperr.Wrap(apperr.CodeAppointmentNotFound, "appointment not found", err)
	}
	return err
}

// logEvent writes the audit trail inside the current unit.
func (c *Coordinator) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}

	if err := c.repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}

// spawn runs post-commit work. A panic is logged and never reaches the caller.
func (c *Coordinator) spawn(name string, fn func()) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprint(r)).
					Str("stack", string(debug.Stack())).
					Msg("post-commit work panicked")
			}
		}()
		fn()
	}
	if c.async {
		go run()
		return
	}
	run()
}

func localTime(a *Appointment) string {
	t := a.ScheduledAt
	if loc, err := time.LoadLocation(a.Timezone); err == nil {
		t = t.In(loc)
	}
	return t.Format("Mon 02 Jan 2006 15:04 MST")
}
