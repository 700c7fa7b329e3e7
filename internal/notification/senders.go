package notification

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	redisclient "github.com/hackgods/vet-telehealth/internal/redis"
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Sender delivers a task on one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, t Task) error
}

type EmailSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewEmailSender(apiKey, fromEmail, fromName string) *EmailSender {
	return &EmailSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromEmail),
	}
}

func (s *EmailSender) Channel() Channel { return ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, t Task) error {
	if t.Recipient.Email == "" {
		return fmt.Errorf("%w: recipient has no email", ErrPermanent)
	}

	to := mail.NewEmail(t.Recipient.Name, t.Recipient.Email)
	msg := mail.NewSingleEmail(s.from, t.Payload.Title, to, t.Payload.Body, "<p>"+t.Payload.Body+"</p>")
	if a := t.Payload.Attachment; a != nil {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		msg.AddAttachment(att)
	}

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	default:
		return fmt.Errorf("%w: sendgrid status %d: %s", ErrPermanent, resp.StatusCode, resp.Body)
	}
}

type SMSSender struct {
	client *twilio.RestClient
	from   string
}

func NewSMSSender(accountSID, authToken, from string) *SMSSender {
	return &SMSSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username:   accountSID,
			Password:   authToken,
			AccountSid: accountSID,
		}),
		from: from,
	}
}

func (s *SMSSender) Channel() Channel { return ChannelSMS }

func (s *SMSSender) Send(_ context.Context, t Task) error {
	if t.Recipient.Phone == "" {
		return fmt.Errorf("%w: recipient has no phone", ErrPermanent)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(t.Recipient.Phone)
	params.SetFrom(s.from)
	params.SetBody(t.Payload.Title + ": " + t.Payload.Body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}

// PushSender publishes to the per-user channel the device gateway subscribes to.
type PushSender struct {
	client *redis.Client
}

func NewPushSender(client *redis.Client) *PushSender {
	return &PushSender{client: client}
}

func (s *PushSender) Channel() Channel { return ChannelPush }

func PushChannel(userID uuid.UUID) string {
	return "push:" + userID.String()
}

type pushMessage struct {
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

func (s *PushSender) Send(ctx context.Context, t Task) error {
	msg := pushMessage{Kind: t.Payload.Kind, Title: t.Payload.Title, Body: t.Payload.Body}
	if t.Payload.AppointmentID != uuid.Nil {
		msg.AppointmentID = t.Payload.AppointmentID.String()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode push: %v", ErrPermanent, err)
	}
	return redisclient.Publish(ctx, s.client, PushChannel(t.Recipient.UserID), raw)
}
