package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/db/dbtest"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/payment"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

type pgFixture struct {
	fixture
	pool  *pgxpool.Pool
	store *slot.PgStore
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	pool := dbtest.Connect(t)
	ctx := context.Background()

	repo := NewPgRepository(pool)
	tx := db.NewTxManager(pool)
	f := &pgFixture{pool: pool, store: slot.NewPgStore(pool)}
	f.notifier = &recordingNotifier{}
	f.ledger = subscription.NewLedger(subscription.NewPgRepository(pool), tx, config.DefaultPolicy(), zerolog.Nop(),
		subscription.WithClock(func() time.Time { return march2025 }))
	f.c = NewCoordinator(Deps{
		Repo:     repo,
		Slots:    f.store,
		Ledger:   f.ledger,
		Records:  notification.NewPgRepository(pool),
		Notifier: f.notifier,
		Receipts: payment.NewMemoryRepository(),
		Tx:       tx,
		Links:    NewMeetingLinks("https://meet.example.test", "link-secret"),
		Log:      zerolog.Nop(),
	})
	f.c.async = false

	var err error
	f.vet, err = repo.CreateVet(ctx, Vet{UserID: uuid.New(), Name: "Dr. Okafor", Email: "okafor@clinic.test"})
	require.NoError(t, err)
	f.parent, err = repo.CreatePetParent(ctx, PetParent{UserID: uuid.New(), Name: "Ana", Email: "ana@mail.test"})
	require.NoError(t, err)
	f.pet, err = repo.CreatePet(ctx, Pet{OwnerID: f.parent.ID, Name: "Miso", Species: "cat"})
	require.NoError(t, err)
	return f
}

func (f *pgFixture) newPgSlot(t *testing.T, date, start string) *slot.Slot {
	t.Helper()
	s, err := f.store.Create(context.Background(), slot.Slot{
		ProviderID: f.vet.ID,
		Date:       date,
		StartTime:  start,
		EndTime:    "23:30",
		Timezone:   "America/New_York",
	})
	require.NoError(t, err)
	return s
}

func (f *pgFixture) appointmentsForSlot(t *testing.T, slotID uuid.UUID) int {
	t.Helper()
	var n int
	require.NoError(t, f.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM appointments WHERE slot_id = $1`, slotID).Scan(&n))
	return n
}

func (f *pgFixture) pgSlotStatus(t *testing.T, id uuid.UUID) slot.Status {
	t.Helper()
	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func TestPgBook_ConcurrentSameSlotSingleWinner(t *testing.T) {
	f := newPgFixture(t)
	s := f.newPgSlot(t, "2025-03-10", "14:00")

	const attempts = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, attempts)
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.c.Book(f.asParent(f.parent), f.request(s))
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperr.Is(err, apperr.CodeSlotNotAvailable):
		default:
			assert.Fail(t, "unexpected error", err.Error())
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.appointmentsForSlot(t, s.ID))
	assert.Equal(t, slot.StatusBooked, f.pgSlotStatus(t, s.ID))
}

func TestPgBook_QuotaExhaustedRollsBackReservation(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	sub, err := f.ledger.Create(ctx, subscription.CreateInput{
		PetParentID: f.parent.ID,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for i := 0; i < sub.MaxAppointments; i++ {
		_, err := f.ledger.Consume(ctx, sub.ID, uuid.New())
		require.NoError(t, err)
	}

	s := f.newPgSlot(t, "2025-03-12", "10:00")
	req := f.request(s)
	req.UseSubscription = true
	_, err = f.c.Book(f.asParent(f.parent), req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeQuotaExhausted))
	assert.True(t, errors.Is(err, subscription.ErrQuotaExhausted))

	assert.Equal(t, slot.StatusAvailable, f.pgSlotStatus(t, s.ID))
	assert.Zero(t, f.appointmentsForSlot(t, s.ID))
	assert.Empty(t, f.notifier.kinds())

	after, err := f.ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, after.RemainingAppointments)
	assert.Len(t, after.AppointmentIDs, sub.MaxAppointments)
}

func TestPgBook_CancelRestoresQuotaAndSlot(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	sub, err := f.ledger.Create(ctx, subscription.CreateInput{
		PetParentID: f.parent.ID,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	s := f.newPgSlot(t, "2025-03-13", "11:00")
	req := f.request(s)
	req.UseSubscription = true
	a, err := f.c.Book(f.asParent(f.parent), req)
	require.NoError(t, err)
	require.NotNil(t, a.SubscriptionID)

	mid, err := f.ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.MaxAppointments-1, mid.RemainingAppointments)

	_, err = f.c.Cancel(f.asParent(f.parent), a.ID, "feeling better")
	require.NoError(t, err)

	after, err := f.ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.MaxAppointments, after.RemainingAppointments)
	assert.Empty(t, after.AppointmentIDs)
	assert.Equal(t, slot.StatusAvailable, f.pgSlotStatus(t, s.ID))
}
