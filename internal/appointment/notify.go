package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/payment"
	"github.com/hackgods/vet-telehealth/internal/receipt"
)

func vetRecipient(v *Vet) notification.Recipient {
	return notification.Recipient{UserID: v.UserID, Name: v.Name, Email: v.Email, Phone: v.Phone}
}

func parentRecipient(p *PetParent) notification.Recipient {
	return notification.Recipient{UserID: p.UserID, Name: p.Name, Email: p.Email, Phone: p.Phone}
}

func (c *Coordinator) notifyBooked(ctx context.Context, b booking) {
	when := localTime(b.appt)

	c.notifier.Notify(ctx, vetRecipient(b.vet), notification.Payload{
		Kind:          notification.KindAppointmentBooked,
		Title:         "New appointment booked",
		Body:          fmt.Sprintf("%s booked %s for %s. Concerns: %s", b.parent.Name, b.pet.Name, when, strings.Join(b.appt.Concerns, "; ")),
		AppointmentID: b.appt.ID,
	})

	c.notifier.Notify(ctx, parentRecipient(b.parent), notification.Payload{
		Kind:          notification.KindAppointmentConfirmed,
		Title:         "Appointment confirmed",
		Body:          fmt.Sprintf("%s with %s is confirmed for %s. Join at %s", b.pet.Name, b.vet.Name, when, b.appt.MeetingLink),
		AppointmentID: b.appt.ID,
		Attachment:    c.receiptFor(ctx, b),
	})
}

func (c *Coordinator) notifyCancelled(ctx context.Context, b booking) {
	p := notification.Payload{
		Kind:          notification.KindAppointmentCancelled,
		Title:         "Appointment cancelled",
		Body:          fmt.Sprintf("The appointment on %s was cancelled", localTime(b.appt)),
		AppointmentID: b.appt.ID,
	}
	if b.appt.CancelReason != "" {
		p.Body += ": " + b.appt.CancelReason
	}
	c.notifier.Notify(ctx, vetRecipient(b.vet), p)
	c.notifier.Notify(ctx, parentRecipient(b.parent), p)
}

// receiptFor renders the parent's latest payment as a PDF. Bookings without a
// recorded payment go out without an attachment.
func (c *Coordinator) receiptFor(ctx context.Context, b booking) *notification.Attachment {
	if c.receipts == nil {
		return nil
	}
	pay, err := c.receipts.LatestSucceeded(ctx, b.parent.ID)
	if err != nil {
		if !errors.Is(err, payment.ErrPaymentNotFound) {
			c.log.Warn().Err(err).Str("appointment_id", b.appt.ID.String()).Msg("load payment for receipt")
		}
		return nil
	}

	r := receipt.Receipt{
		PayerName:     b.parent.Name,
		PaymentRef:    pay.ExternalRef,
		Amount:        pay.Amount,
		Currency:      pay.Currency,
		PaidAt:        pay.PaidAt,
		ProviderName:  b.vet.Name,
		AppointmentAt: b.appt.ScheduledAt,
		Timezone:      b.appt.Timezone,
		MeetingLink:   b.appt.MeetingLink,
	}
	pdf, err := receipt.Render(r)
	if err != nil {
		c.log.Warn().Err(err).Str("appointment_id", b.appt.ID.String()).Msg("render receipt")
		return nil
	}
	return &notification.Attachment{Filename: r.Filename(), ContentType: receipt.ContentType, Content: pdf}
}
