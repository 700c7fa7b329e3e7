package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render(Receipt{
		PayerName:     "Ana Lopez",
		PaymentRef:    "pi_123",
		Amount:        35,
		Currency:      "usd",
		PaidAt:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		ProviderName:  "Dr. Reyes",
		AppointmentAt: time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
		Timezone:      "America/New_York",
		MeetingLink:   "https://meet.example.com/a/123?sig=abc",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRender_WithoutMeetingLink(t *testing.T) {
	out, err := Render(Receipt{PaymentRef: "pi_1", Amount: 10, Currency: "eur"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRender_RequiresReference(t *testing.T) {
	_, err := Render(Receipt{})
	assert.Error(t, err)
}

func TestReceipt_AppointmentLocal(t *testing.T) {
	r := Receipt{AppointmentAt: time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), Timezone: "America/New_York"}
	assert.Equal(t, "Mon 10 Mar 2025 14:00 EDT", r.appointmentLocal())
	assert.Equal(t, "-", Receipt{}.appointmentLocal())
	assert.Equal(t, "receipt-pi_9.pdf", Receipt{PaymentRef: "pi_9"}.Filename())
}
