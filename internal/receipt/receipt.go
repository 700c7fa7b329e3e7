// Package receipt renders the PDF payment receipt attached to booking
// confirmations.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

const (
	ContentType = "application/pdf"
	qrSize      = 256
	qrImageName = "meeting-qr"
)

type Receipt struct {
	PayerName     string
	PaymentRef    string
	Amount        float64
	Currency      string
	PaidAt        time.Time
	ProviderName  string
	AppointmentAt time.Time
	Timezone      string
	MeetingLink   string
}

func (r Receipt) Filename() string {
	return "receipt-" + r.PaymentRef + ".pdf"
}

func (r Receipt) appointmentLocal() string {
	if r.AppointmentAt.IsZero() {
		return "-"
	}
	t := r.AppointmentAt
	if loc, err := time.LoadLocation(r.Timezone); err == nil && r.Timezone != "" {
		t = t.In(loc)
	}
	return t.Format("Mon 02 Jan 2006 15:04 MST")
}

// Render builds an A4 receipt. The meeting link, when present, is also
// printed as a QR code.
func Render(r Receipt) ([]byte, error) {
	if r.PaymentRef == "" {
		return nil, errors.New("receipt: payment reference is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payment receipt "+r.PaymentRef, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 12, "Payment receipt")
	pdf.Ln(16)

	pdf.SetFont("Arial", "", 12)
	lines := [][2]string{
		{"Reference", r.PaymentRef},
		{"Paid by", r.PayerName},
		{"Amount", fmt.Sprintf("%.2f %s", r.Amount, strings.ToUpper(r.Currency))},
		{"Paid at", r.PaidAt.UTC().Format(time.RFC1123)},
		{"Veterinarian", r.ProviderName},
		{"Consultation", r.appointmentLocal()},
	}
	for _, l := range lines {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(45, 8, l[0]+":")
		pdf.SetFont("Arial", "", 12)
		pdf.Cell(0, 8, l[1])
		pdf.Ln(8)
	}

	if r.MeetingLink != "" {
		png, err := qrcode.Encode(r.MeetingLink, qrcode.Medium, qrSize)
		if err != nil {
			return nil, fmt.Errorf("receipt qr: %w", err)
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
		pdf.ImageOptions(qrImageName, 150, 30, 40, 40, false, opts, 0, "")

		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, "Join: "+r.MeetingLink, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
