package slot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/db/dbtest"
)

func TestPgStore_ConcurrentReserveSingleWinner(t *testing.T) {
	pool := dbtest.Connect(t)
	ctx := context.Background()
	store := NewPgStore(pool)
	tx := db.NewTxManager(pool)

	vetID, _ := dbtest.InsertVet(t, pool)
	s, err := store.Create(ctx, Slot{
		ProviderID: vetID,
		Date:       "2025-03-10",
		StartTime:  "14:00",
		EndTime:    "14:30",
		Timezone:   "America/New_York",
	})
	require.NoError(t, err)

	const attempts = 10
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
			errs[i] = tx.RunInTx(ctx, func(ctx context.Context) error {
				_, err := store.Reserve(ctx, s.ID, vetID)
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotNotAvailable):
		default:
			assert.Fail(t, "unexpected error", err.Error())
		}
	}
	assert.Equal(t, 1, wins)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, got.Status)
}

func TestPgStore_RollbackReleasesReservation(t *testing.T) {
	pool := dbtest.Connect(t)
	ctx := context.Background()
	store := NewPgStore(pool)
	tx := db.NewTxManager(pool)

	vetID, _ := dbtest.InsertVet(t, pool)
	s, err := store.Create(ctx, Slot{
		ProviderID: vetID,
		Date:       "2025-03-11",
		StartTime:  "09:00",
		EndTime:    "09:30",
		Timezone:   "UTC",
	})
	require.NoError(t, err)

	boom := errors.New("later step failed")
	err = tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := store.Reserve(ctx, s.ID, vetID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)
}
