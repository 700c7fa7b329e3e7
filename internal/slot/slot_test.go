package slot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-telehealth/internal/db"
)

func newSlot(t *testing.T, store *MemoryStore, provider uuid.UUID) *Slot {
	t.Helper()
	s, err := store.Create(context.Background(), Slot{
		ProviderID: provider,
		Date:       "2025-03-10",
		StartTime:  "14:00",
		EndTime:    "14:30",
		Timezone:   "America/New_York",
	})
	require.NoError(t, err)
	return s
}

func TestSlot_StartsAtUsesSlotZone(t *testing.T) {
	s := Slot{Date: "2025-03-10", StartTime: "14:00", EndTime: "14:30", Timezone: "America/New_York"}

	start, err := s.StartsAt()
	require.NoError(t, err)
	// 2025-03-09 was the DST switch, so New York is UTC-4 on the 10th.
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.UTC, start.Location())

	end, err := s.EndsAt()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, end.Sub(start))
}

func TestSlot_StartsAtIgnoresProcessZone(t *testing.T) {
	prev := time.Local
	time.Local = time.FixedZone("far-away", 13*3600)
	t.Cleanup(func() { time.Local = prev })

	s := Slot{Date: "2025-03-10", StartTime: "14:00", EndTime: "14:30", Timezone: "America/New_York"}
	start, err := s.StartsAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), start)
}

func TestSlot_EndsAtRollsOverMidnight(t *testing.T) {
	s := Slot{Date: "2025-06-01", StartTime: "23:45", EndTime: "00:15", Timezone: "Europe/Rome"}
	start, err := s.StartsAt()
	require.NoError(t, err)
	end, err := s.EndsAt()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, end.Sub(start))
}

func TestSlot_Validate(t *testing.T) {
	base := Slot{ProviderID: uuid.New(), Date: "2025-03-10", StartTime: "14:00", EndTime: "14:30", Timezone: "UTC"}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Slot)
	}{
		{"missing provider", func(s *Slot) { s.ProviderID = uuid.Nil }},
		{"bad date", func(s *Slot) { s.Date = "10/03/2025" }},
		{"bad start", func(s *Slot) { s.StartTime = "2pm" }},
		{"bad zone", func(s *Slot) { s.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestMemoryStore_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := uuid.New()
	s := newSlot(t, store, provider)

	_, err := store.Reserve(ctx, s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound, "provider must match")

	got, err := store.Reserve(ctx, s.ID, provider)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, got.Status)

	_, err = store.Reserve(ctx, s.ID, provider)
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	got, err = store.Release(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)

	_, err = store.Release(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSlotNotBooked)

	_, err = store.Release(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestMemoryStore_DisabledNeverReserved(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := uuid.New()
	s, err := store.Create(ctx, Slot{ProviderID: provider, Date: "2025-03-10", StartTime: "09:00", EndTime: "09:30", Timezone: "UTC", Status: StatusDisabled})
	require.NoError(t, err)

	_, err = store.Reserve(ctx, s.ID, provider)
	assert.ErrorIs(t, err, ErrSlotNotAvailable)
	_, err = store.Release(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSlotNotBooked)
}

func TestMemoryStore_ReserveRolledBackWithUnit(t *testing.T) {
	store := NewMemoryStore()
	tr := db.NewMemoryTransactor()
	provider := uuid.New()
	s := newSlot(t, store, provider)

	err := tr.RunInTx(context.Background(), func(ctx context.Context) error {
		if _, err := store.Reserve(ctx, s.ID, provider); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)
}

func TestMemoryStore_ConcurrentReserveHasOneWinner(t *testing.T) {
	store := NewMemoryStore()
	provider := uuid.New()
	s := newSlot(t, store, provider)

	const n = 64
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Reserve(context.Background(), s.ID, provider)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotNotAvailable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)
}

func TestMemoryStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := uuid.New()
	for _, date := range []string{"2025-03-09", "2025-03-10", "2025-03-11"} {
		_, err := store.Create(ctx, Slot{ProviderID: provider, Date: date, StartTime: "10:00", EndTime: "10:30", Timezone: "UTC"})
		require.NoError(t, err)
	}
	booked := newSlot(t, store, provider)
	_, err := store.Reserve(ctx, booked.ID, provider)
	require.NoError(t, err)
	newSlot(t, store, uuid.New())

	st, err := store.Stats(ctx, provider, "2025-03-10", "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Available)
	assert.Equal(t, 1, st.Booked)
}
