package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/page"
	"github.com/hackgods/vet-telehealth/internal/payment"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

type sent struct {
	to notification.Recipient
	p  notification.Payload
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []sent
	panic bool
}

func (n *recordingNotifier) Notify(_ context.Context, to notification.Recipient, p notification.Payload) {
	if n.panic {
		panic("mail relay down")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{to: to, p: p})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		out = append(out, s.p.Kind)
	}
	return out
}

type fixture struct {
	c        *Coordinator
	repo     *MemoryRepository
	slots    *slot.MemoryStore
	ledger   *subscription.Ledger
	records  *notification.MemoryRepository
	payments *payment.MemoryRepository
	notifier *recordingNotifier

	vet    *Vet
	parent *PetParent
	pet    *Pet
}

var march2025 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		repo:     NewMemoryRepository(),
		slots:    slot.NewMemoryStore(),
		records:  notification.NewMemoryRepository(),
		payments: payment.NewMemoryRepository(),
		notifier: &recordingNotifier{},
	}
	tx := db.NewMemoryTransactor()
	f.ledger = subscription.NewLedger(subscription.NewMemoryRepository(), tx, config.DefaultPolicy(), zerolog.Nop(),
		subscription.WithClock(func() time.Time { return march2025 }))

	f.c = NewCoordinator(Deps{
		Repo:     f.repo,
		Slots:    f.slots,
		Ledger:   f.ledger,
		Records:  f.records,
		Notifier: f.notifier,
		Receipts: f.payments,
		Tx:       tx,
		Links:    NewMeetingLinks("https://meet.example.test", "link-secret"),
		Log:      zerolog.Nop(),
	})
	f.c.async = false

	var err error
	f.vet, err = f.repo.CreateVet(ctx, Vet{UserID: uuid.New(), Name: "Dr. Rivera", Email: "rivera@clinic.test"})
	require.NoError(t, err)
	f.parent = f.newParent(t, "Ana")
	f.pet, err = f.repo.CreatePet(ctx, Pet{OwnerID: f.parent.ID, Name: "Miso", Species: "cat"})
	require.NoError(t, err)
	return f
}

func (f *fixture) newParent(t *testing.T, name string) *PetParent {
	t.Helper()
	p, err := f.repo.CreatePetParent(context.Background(), PetParent{UserID: uuid.New(), Name: name, Email: name + "@mail.test"})
	require.NoError(t, err)
	return p
}

func (f *fixture) newSlot(t *testing.T, date, start string) *slot.Slot {
	t.Helper()
	s, err := f.slots.Create(context.Background(), slot.Slot{
		ProviderID: f.vet.ID,
		Date:       date,
		StartTime:  start,
		EndTime:    "23:30",
		Timezone:   "America/New_York",
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) asParent(p *PetParent) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: p.UserID, Role: auth.RolePetParent, RefID: p.ID})
}

func (f *fixture) asVet() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: f.vet.UserID, Role: auth.RoleVet})
}

func (f *fixture) request(s *slot.Slot) BookRequest {
	fee := 35.0
	return BookRequest{
		ProviderID:  f.vet.ID.String(),
		RequesterID: f.parent.ID.String(),
		PetID:       f.pet.ID.String(),
		SlotID:      s.ID.String(),
		Fee:         &fee,
		Concerns:    []string{"vomiting since yesterday"},
	}
}

func (f *fixture) slotStatus(t *testing.T, id uuid.UUID) slot.Status {
	t.Helper()
	s, err := f.slots.Get(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func TestBook_ReservesSlot(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")

	a, err := f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	assert.Equal(t, s.ID, a.SlotID)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, PaymentPending, a.PaymentStatus)
	assert.Equal(t, TypeVideoConsultation, a.Type)
	assert.Nil(t, a.SubscriptionID)
	assert.Equal(t, slot.StatusBooked, f.slotStatus(t, s.ID))
	assert.True(t, f.c.links.Verify(a.MeetingLink, *a))

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)

	recs := f.records.All()
	require.Len(t, recs, 1)
	assert.Equal(t, f.vet.UserID, recs[0].UserID)
	assert.Equal(t, notification.KindAppointmentBooked, recs[0].Kind)

	assert.Equal(t, []string{notification.KindAppointmentBooked, notification.KindAppointmentConfirmed}, f.notifier.kinds())
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	other := f.newParent(t, "Bea")
	otherPet, err := f.repo.CreatePet(context.Background(), Pet{OwnerID: other.ID, Name: "Rex", Species: "dog"})
	require.NoError(t, err)

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		lost int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.request(s)
			ctx := f.asParent(f.parent)
			if i%2 == 1 {
				req.RequesterID = other.ID.String()
				req.PetID = otherPet.ID.String()
				ctx = f.asParent(other)
			}
			_, err := f.c.Book(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.Is(err, apperr.CodeSlotNotAvailable):
				lost++
			default:
				assert.Fail(t, "unexpected error", err.Error())
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, lost)
	assert.Equal(t, slot.StatusBooked, f.slotStatus(t, s.ID))

	res, err := f.repo.List(context.Background(), Filter{}, page.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestBook_SubscriptionQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.ledger.Create(ctx, subscription.CreateInput{
		PetParentID: f.parent.ID,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.ledger.Consume(ctx, sub.ID, uuid.New())
		require.NoError(t, err)
	}

	first := f.newSlot(t, "2025-03-10", "14:00")
	req := f.request(first)
	req.UseSubscription = true
	a, err := f.c.Book(f.asParent(f.parent), req)
	require.NoError(t, err)
	require.NotNil(t, a.SubscriptionID)
	assert.Equal(t, sub.ID, *a.SubscriptionID)
	assert.Equal(t, PaymentSubscription, a.PaymentStatus)

	after, err := f.ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.RemainingAppointments)
	assert.Contains(t, after.AppointmentIDs, a.ID)

	second := f.newSlot(t, "2025-03-11", "09:00")
	req = f.request(second)
	req.PaymentStatus = string(PaymentSubscription)
	_, err = f.c.Book(f.asParent(f.parent), req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeQuotaExhausted))
	assert.True(t, errors.Is(err, subscription.ErrQuotaExhausted))
	assert.Equal(t, slot.StatusAvailable, f.slotStatus(t, second.ID))
	assert.Len(t, f.repo.Events(), 1)
}

func TestBook_QuotaWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	req := f.request(s)
	req.UseSubscription = true

	_, err := f.c.Book(f.asParent(f.parent), req)
	assert.True(t, apperr.Is(err, apperr.CodeQuotaExhausted))
	assert.Equal(t, slot.StatusAvailable, f.slotStatus(t, s.ID))
}

func TestBook_ValidationBeforeReservation(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	req := f.request(s)
	req.Concerns = nil

	_, err := f.c.Book(f.asParent(f.parent), req)
	require.Error(t, err)
	appErr := apperr.From(err)
	assert.Equal(t, apperr.CodeValidation, appErr.Code)
	assert.Contains(t, appErr.Fields, "concerns")
	assert.Equal(t, slot.StatusAvailable, f.slotStatus(t, s.ID))
	assert.Empty(t, f.notifier.kinds())
}

func TestBook_ResolvesZonedInstant(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")

	a, err := f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), a.ScheduledAt)
	assert.Equal(t, "America/New_York", a.Timezone)
	assert.Equal(t, "Mon 10 Mar 2025 14:00 EDT", localTime(a))
}

func TestBook_Errors(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")

	t.Run("anonymous", func(t *testing.T) {
		_, err := f.c.Book(context.Background(), f.request(s))
		assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	})

	t.Run("unknown vet", func(t *testing.T) {
		req := f.request(s)
		req.ProviderID = uuid.NewString()
		_, err := f.c.Book(f.asParent(f.parent), req)
		assert.True(t, apperr.Is(err, apperr.CodeVetNotFound))
	})

	t.Run("unknown slot", func(t *testing.T) {
		req := f.request(s)
		req.SlotID = uuid.NewString()
		_, err := f.c.Book(f.asParent(f.parent), req)
		assert.True(t, apperr.Is(err, apperr.CodeSlotNotAvailable))
	})

	t.Run("unknown parent as admin", func(t *testing.T) {
		req := f.request(s)
		req.RequesterID = uuid.NewString()
		ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin})
		_, err := f.c.Book(ctx, req)
		assert.True(t, apperr.Is(err, apperr.CodePetOwnerNotFound))
	})

	t.Run("booking for another parent", func(t *testing.T) {
		other := f.newParent(t, "Cyd")
		_, err := f.c.Book(f.asParent(other), f.request(s))
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})

	t.Run("vet booking another vet's slot", func(t *testing.T) {
		other, err := f.repo.CreateVet(context.Background(), Vet{UserID: uuid.New(), Name: "Dr. Okafor"})
		require.NoError(t, err)
		ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: other.UserID, Role: auth.RoleVet, RefID: other.ID})
		_, err = f.c.Book(ctx, f.request(s))
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})

	t.Run("foreign pet", func(t *testing.T) {
		other := f.newParent(t, "Dee")
		pet, err := f.repo.CreatePet(context.Background(), Pet{OwnerID: other.ID, Name: "Bo"})
		require.NoError(t, err)
		req := f.request(s)
		req.PetID = pet.ID.String()
		_, err = f.c.Book(f.asParent(f.parent), req)
		assert.True(t, apperr.Is(err, apperr.CodePetNotFound))
	})

	assert.Equal(t, slot.StatusAvailable, f.slotStatus(t, s.ID))
	assert.Empty(t, f.records.All())
}

func TestBook_VetBooksOwnSlot(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")

	a, err := f.c.Book(f.asVet(), f.request(s))
	require.NoError(t, err)
	assert.Equal(t, f.vet.ID, a.ProviderID)
}

func TestBook_SessionFallback(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	req := f.request(s)
	// the client sent its user id instead of the pet parent id
	req.RequesterID = f.parent.UserID.String()
	ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: f.parent.UserID, Role: auth.RolePetParent})

	a, err := f.c.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, f.parent.ID, a.RequesterID)
}

func TestBook_NotificationFailureKeepsBooking(t *testing.T) {
	f := newFixture(t)
	f.notifier.panic = true
	s := f.newSlot(t, "2025-03-10", "14:00")

	a, err := f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	got, err := f.repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, slot.StatusBooked, f.slotStatus(t, s.ID))
}

func TestBook_ConfirmationCarriesReceipt(t *testing.T) {
	f := newFixture(t)
	_, err := f.payments.Insert(context.Background(), payment.Payment{
		PetParentID: f.parent.ID,
		ExternalRef: "pi_123",
		Kind:        payment.KindConsultation,
		Amount:      35,
		Currency:    "usd",
		Status:      payment.StatusSucceeded,
		PaidAt:      march2025,
	})
	require.NoError(t, err)
	s := f.newSlot(t, "2025-03-10", "14:00")

	_, err = f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	var confirmation *notification.Payload
	for _, m := range f.notifier.sent {
		if m.p.Kind == notification.KindAppointmentConfirmed {
			p := m.p
			confirmation = &p
		}
	}
	require.NotNil(t, confirmation)
	require.NotNil(t, confirmation.Attachment)
	assert.Equal(t, "receipt-pi_123.pdf", confirmation.Attachment.Filename)
	assert.NotEmpty(t, confirmation.Attachment.Content)
}

func TestCancel_RestoresEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.ledger.Create(ctx, subscription.CreateInput{
		PetParentID: f.parent.ID,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	s := f.newSlot(t, "2025-03-10", "14:00")
	req := f.request(s)
	req.UseSubscription = true
	a, err := f.c.Book(f.asParent(f.parent), req)
	require.NoError(t, err)

	cancelled, err := f.c.Cancel(f.asParent(f.parent), a.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "feeling better", cancelled.CancelReason)
	assert.Equal(t, slot.StatusAvailable, f.slotStatus(t, s.ID))

	restored, err := f.ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.MaxAppointments, restored.RemainingAppointments)
	assert.NotContains(t, restored.AppointmentIDs, a.ID)

	_, err = f.c.Cancel(f.asParent(f.parent), a.ID, "again")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidStatusTransition))

	// the released slot is bookable again
	_, err = f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)
}

func TestCancel_NonParticipant(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	a, err := f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	stranger := f.newParent(t, "Eve")
	_, err = f.c.Cancel(f.asParent(stranger), a.ID, "")
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	_, err = f.c.Cancel(f.asParent(f.parent), uuid.New(), "")
	assert.True(t, apperr.Is(err, apperr.CodeAppointmentNotFound))
	assert.Equal(t, slot.StatusBooked, f.slotStatus(t, s.ID))
}

func TestLifecycle_CompleteAndDelete(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	a, err := f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	_, err = f.c.Complete(f.asParent(f.parent), a.ID)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	err = f.c.SoftDelete(f.asParent(f.parent), a.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidStatusTransition))

	done, err := f.c.Complete(f.asVet(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.c.MarkNoShow(f.asVet(), a.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidStatusTransition))

	require.NoError(t, f.c.SoftDelete(f.asParent(f.parent), a.ID))
	_, err = f.c.Get(f.asParent(f.parent), a.ID)
	assert.True(t, apperr.Is(err, apperr.CodeAppointmentNotFound))

	admin := auth.WithIdentity(context.Background(), auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin})
	d, err := f.c.Get(admin, a.ID)
	require.NoError(t, err)
	assert.True(t, d.Deleted)
	assert.Equal(t, f.pet.Name, d.Pet.Name)
}

func TestList_ScopedToCaller(t *testing.T) {
	f := newFixture(t)
	other := f.newParent(t, "Fay")
	otherPet, err := f.repo.CreatePet(context.Background(), Pet{OwnerID: other.ID, Name: "Pip"})
	require.NoError(t, err)

	for i, start := range []string{"09:00", "10:00", "11:00"} {
		s := f.newSlot(t, "2025-03-12", start)
		req := f.request(s)
		ctx := f.asParent(f.parent)
		if i == 2 {
			req.RequesterID, req.PetID = other.ID.String(), otherPet.ID.String()
			ctx = f.asParent(other)
		}
		_, err := f.c.Book(ctx, req)
		require.NoError(t, err)
	}

	mine, err := f.c.List(f.asParent(f.parent), Filter{RequesterID: other.ID}, page.Request{Page: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	assert.Equal(t, 2, mine.Pages())
	require.Len(t, mine.Items, 1)
	assert.Equal(t, f.parent.ID, mine.Items[0].RequesterID)

	vets, err := f.c.List(f.asVet(), Filter{Ascending: true}, page.Request{})
	require.NoError(t, err)
	require.Equal(t, 3, vets.Total)
	assert.True(t, vets.Items[0].ScheduledAt.Before(vets.Items[2].ScheduledAt))

	_, err = f.c.List(context.Background(), Filter{}, page.Request{})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestVerifyMeetingLink(t *testing.T) {
	f := newFixture(t)
	s := f.newSlot(t, "2025-03-10", "14:00")
	a, err := f.c.Book(f.asParent(f.parent), f.request(s))
	require.NoError(t, err)

	ok, err := f.c.VerifyMeetingLink(context.Background(), a.ID, a.MeetingLink)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.c.VerifyMeetingLink(context.Background(), a.ID, a.MeetingLink+"x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.c.Cancel(f.asVet(), a.ID, "vet unavailable")
	require.NoError(t, err)
	ok, err = f.c.VerifyMeetingLink(context.Background(), a.ID, a.MeetingLink)
	require.NoError(t, err)
	assert.False(t, ok)
}
