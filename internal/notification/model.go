package notification

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Recipient is a resolved account. Empty contact fields disable that channel.
type Recipient struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name,omitempty"`
	Email  string    `json:"email,omitempty"`
	Phone  string    `json:"phone,omitempty"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

type Payload struct {
	Kind          string      `json:"kind"`
	Title         string      `json:"title"`
	Body          string      `json:"body"`
	AppointmentID uuid.UUID   `json:"appointment_id"`
	Attachment    *Attachment `json:"attachment,omitempty"`
}

// Task is the outbound unit placed on the delivery queue.
type Task struct {
	ID         uuid.UUID `json:"id"`
	Recipient  Recipient `json:"recipient"`
	Payload    Payload   `json:"payload"`
	Channels   []Channel `json:"channels"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// ChannelsFor picks the channels a recipient can be reached on.
func ChannelsFor(r Recipient) []Channel {
	var ch []Channel
	if r.UserID != uuid.Nil {
		ch = append(ch, ChannelPush)
	}
	if r.Email != "" {
		ch = append(ch, ChannelEmail)
	}
	if r.Phone != "" {
		ch = append(ch, ChannelSMS)
	}
	return ch
}

// Record is an in-app notification row, written in the same unit as the
// change it announces.
type Record struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Kind          string
	Title         string
	Body          string
	AppointmentID *uuid.UUID
	Read          bool
	CreatedAt     time.Time
}

const (
	KindAppointmentBooked    = "appointment_booked"
	KindAppointmentConfirmed = "appointment_confirmed"
	KindAppointmentCancelled = "appointment_cancelled"
)
