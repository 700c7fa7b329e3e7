package appointment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"path"
	"strings"
)

// MeetingLinks derives the video link from the participants of an
// appointment, so it can be regenerated and verified without storage.
type MeetingLinks struct {
	baseURL string
	secret  []byte
}

func NewMeetingLinks(baseURL, secret string) *MeetingLinks {
	return &MeetingLinks{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret)}
}

func (m *MeetingLinks) signature(a Appointment) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(a.ID.String() + "|" + a.ProviderID.String() + "|" + a.PetID.String() + "|" + a.RequesterID.String()))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *MeetingLinks) Generate(a Appointment) string {
	return m.baseURL + "/room/" + a.ID.String() + "?sig=" + m.signature(a)
}

// Verify reports whether link is the one Generate yields for a.
func (m *MeetingLinks) Verify(link string, a Appointment) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if path.Base(u.Path) != a.ID.String() {
		return false
	}
	got, err := base64.RawURLEncoding.DecodeString(u.Query().Get("sig"))
	if err != nil {
		return false
	}
	want, _ := base64.RawURLEncoding.DecodeString(m.signature(a))
	return hmac.Equal(got, want)
}
