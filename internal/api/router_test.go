package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/payment"
	"github.com/hackgods/vet-telehealth/internal/review"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

const webhookSecret = "whsec_test_secret"

var testNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type testServer struct {
	h      http.Handler
	tokens *auth.TokenService
	repo   *appointment.MemoryRepository
	slots  *slot.MemoryStore
	vet    *appointment.Vet
	parent *appointment.PetParent
	pet    *appointment.Pet
}

func newTestServer(t *testing.T, ratePerMinute int) *testServer {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()
	tx := db.NewMemoryTransactor()

	ts := &testServer{
		tokens: auth.NewTokenService("router-test-secret-value", time.Hour),
		repo:   appointment.NewMemoryRepository(),
		slots:  slot.NewMemoryStore(),
	}
	ledger := subscription.NewLedger(subscription.NewMemoryRepository(), tx, config.DefaultPolicy(), log,
		subscription.WithClock(func() time.Time { return testNow }))
	payments := payment.NewService(payment.NewMemoryRepository(), ledger, tx, log)
	records := notification.NewMemoryRepository()

	coord := appointment.NewCoordinator(appointment.Deps{
		Repo:     ts.repo,
		Slots:    ts.slots,
		Ledger:   ledger,
		Records:  records,
		Notifier: notification.NewLogDispatcher(log),
		Receipts: payments,
		Tx:       tx,
		Links:    appointment.NewMeetingLinks("https://meet.example.test", "meeting-test-secret"),
		Log:      log,
	})

	ts.h = NewRouter(RouterConfig{
		Appointments:         coord,
		Directory:            ts.repo,
		Subscriptions:        ledger,
		Payments:             payments,
		Reviews:              review.NewService(review.NewMemoryRepository(), ts.repo, log),
		Slots:                ts.slots,
		Notifications:        records,
		Tokens:               ts.tokens,
		Log:                  log,
		Env:                  "test",
		Version:              "test",
		CORSOrigins:          []string{"*"},
		BookingRatePerMinute: ratePerMinute,
		StripeWebhookSecret:  webhookSecret,
		Now:                  func() time.Time { return testNow },
	})

	var err error
	ts.vet, err = ts.repo.CreateVet(ctx, appointment.Vet{UserID: uuid.New(), Name: "Dr. Haas"})
	require.NoError(t, err)
	ts.parent, err = ts.repo.CreatePetParent(ctx, appointment.PetParent{UserID: uuid.New(), Name: "Noor"})
	require.NoError(t, err)
	ts.pet, err = ts.repo.CreatePet(ctx, appointment.Pet{OwnerID: ts.parent.ID, Name: "Kiwi"})
	require.NoError(t, err)
	return ts
}

func (ts *testServer) newSlot(t *testing.T) *slot.Slot {
	t.Helper()
	s, err := ts.slots.Create(context.Background(), slot.Slot{
		ProviderID: ts.vet.ID,
		Date:       "2025-03-10",
		StartTime:  "14:00",
		EndTime:    "14:30",
		Timezone:   "America/New_York",
	})
	require.NoError(t, err)
	return s
}

func (ts *testServer) parentToken(t *testing.T) string {
	t.Helper()
	tok, err := ts.tokens.Issue(auth.Identity{UserID: ts.parent.UserID, Role: auth.RolePetParent, RefID: ts.parent.ID})
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) bookBody(s *slot.Slot) map[string]any {
	return map[string]any{
		"providerId":  ts.vet.ID,
		"requesterId": ts.parent.ID,
		"petId":       ts.pet.ID,
		"slotId":      s.ID,
		"fee":         35,
		"concerns":    []string{"sneezing"},
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness_CriticalDown(t *testing.T) {
	h := NewHealthHandler([]Check{
		{Name: "postgres", Critical: true, Ping: func(context.Context) error { return errors.New("refused") }},
		{Name: "redis", Ping: func(context.Context) error { return nil }},
	}, "test", "v1")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, map[string]string{"postgres": "down", "redis": "ok"}, resp.Dependencies)
}

func TestBookAppointment_HTTP(t *testing.T) {
	ts := newTestServer(t, 0)
	s := ts.newSlot(t)

	rec := ts.do(t, http.MethodPost, "/appointments", "", ts.bookBody(s))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/appointments", ts.parentToken(t), ts.bookBody(s))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, s.ID, created.SlotID)
	assert.Equal(t, "scheduled", created.Status)
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), created.ScheduledAt.UTC())
	assert.NotEmpty(t, created.MeetingLink)

	rec = ts.do(t, http.MethodPost, "/appointments", ts.parentToken(t), ts.bookBody(s))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SLOT_NOT_AVAILABLE", decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/appointments/"+created.ID.String(), ts.parentToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail AppointmentDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "Kiwi", detail.Pet.Name)
	assert.Equal(t, "Dr. Haas", detail.Vet.Name)

	rec = ts.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/cancel", ts.parentToken(t), CancelRequest{Reason: "recovered"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments?status=cancelled", ts.parentToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list PageResponse[AppointmentResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "recovered", list.Items[0].CancelReason)
}

func TestBookAppointment_ValidationFields(t *testing.T) {
	ts := newTestServer(t, 0)
	s := ts.newSlot(t)
	body := ts.bookBody(s)
	body["concerns"] = []string{}
	body["slotId"] = "nope"

	rec := ts.do(t, http.MethodPost, "/appointments", ts.parentToken(t), body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", e.Error)
	assert.Contains(t, e.Fields, "concerns")
	assert.Contains(t, e.Fields, "slotId")

	got, err := ts.slots.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusAvailable, got.Status)
}

func TestListAppointments_BadFilter(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodGet, "/appointments?status=lost&minFee=-1&from=yesterday", ts.parentToken(t), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Contains(t, e.Fields, "status")
	assert.Contains(t, e.Fields, "minFee")
	assert.Contains(t, e.Fields, "from")
}

func TestQuota_YearBounds(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/subscriptions/quota?year=2019", ts.parentToken(t), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must be between 2020 and 2030", decodeError(t, rec).Fields["year"])

	rec = ts.do(t, http.MethodGet, "/subscriptions/quota", ts.parentToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q QuotaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 2025, q.Year)
	assert.Equal(t, ts.parent.ID, q.PetParentID)
	assert.False(t, q.HasSubscription)
	assert.False(t, q.Available)

	other := uuid.NewString()
	rec = ts.do(t, http.MethodGet, "/subscriptions/quota?petParentId="+other, ts.parentToken(t), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func signedWebhook(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestStripeWebhook_EnrolsSubscription(t *testing.T) {
	ts := newTestServer(t, 0)
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "pi_sub_1",
			"object": "payment_intent",
			"amount": 12000,
			"currency": "usd",
			"metadata": {"pet_parent_id": %q, "kind": "subscription"}
		}}
	}`, testNow.Unix(), ts.parent.ID.String()))

	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, signedWebhook(t, payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/subscriptions/quota?year=2025", ts.parentToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q QuotaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.True(t, q.HasSubscription)
	assert.True(t, q.Available)
	assert.Equal(t, 4, q.Remaining)
	assert.True(t, q.LowQuota)

	// replay is acknowledged without a second enrolment
	rec = httptest.NewRecorder()
	ts.h.ServeHTTP(rec, signedWebhook(t, payload))
	require.Equal(t, http.StatusOK, rec.Code)
	var ack WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.Duplicate)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	ts := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{"type":"payment_intent.succeeded"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeactivateSubscription_AdminOnly(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/subscriptions/"+uuid.NewString()+"/deactivate", ts.parentToken(t), DeactivateRequest{Reason: "refund"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := ts.tokens.Issue(auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin})
	require.NoError(t, err)
	rec = ts.do(t, http.MethodPost, "/subscriptions/"+uuid.NewString()+"/deactivate", admin, DeactivateRequest{Reason: "refund"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SUBSCRIPTION_NOT_FOUND", decodeError(t, rec).Error)
}

func TestRateLimit_Booking(t *testing.T) {
	ts := newTestServer(t, 6)
	tok := ts.parentToken(t)

	first := ts.do(t, http.MethodPost, "/appointments", tok, ts.bookBody(ts.newSlot(t)))
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(t, http.MethodPost, "/appointments", tok, ts.bookBody(ts.newSlot(t)))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	// reads are not limited
	rec := ts.do(t, http.MethodGet, "/appointments", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("ip:10.0.0.1")
	now = now.Add(visitorIdle + time.Minute)
	rl.getLimiter("ip:10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "ip:10.0.0.2")
}
