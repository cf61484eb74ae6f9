package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository"
	"github.com/bustix/bustix/internal/repository/memory"
)

func TestReserveSeats_ConcurrentSameSeat(t *testing.T) {
	store := memory.NewStore()
	store.AddSchedule(1, 40)
	ctx := context.Background()

	const workers = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ReserveSeats(ctx, 1, uuid.New(), []int64{12}, 10*time.Minute)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			var conflict *repository.SeatConflictError
			if !errors.As(err, &conflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one reserve may win the seat")

	counts, err := store.Counts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Held)
}

func TestReserveSeats_ConcurrentDisjoint(t *testing.T) {
	store := memory.NewStore()
	store.AddSchedule(1, 40)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(seat int64) {
			defer wg.Done()
			_, err := store.ReserveSeats(ctx, 1, uuid.New(), []int64{seat}, 10*time.Minute)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	counts, err := store.Counts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), counts.Held)
	assert.Equal(t, int64(20), counts.Available)
}

func TestCommitBooking_ConcurrentRetries(t *testing.T) {
	store := memory.NewStore()
	store.AddSchedule(1, 40)
	ctx := context.Background()

	bookingID := uuid.New()
	_, err := store.ReserveSeats(ctx, 1, bookingID, []int64{5}, 10*time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, &domain.Booking{
		ID:            bookingID,
		ScheduleID:    1,
		Seats:         []int64{5},
		PaymentStatus: domain.PaymentProcessing,
		BookingStatus: domain.BookingPending,
	}))

	const workers = 8

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.CommitBooking(ctx, bookingID)
			if err != nil {
				t.Errorf("commit: %v", err)
				return
			}
			if !res.AlreadyCommitted {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, firsts, "inventory must move to booked exactly once")

	counts, err := store.Counts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Booked)
	assert.Equal(t, int64(0), counts.Held)
}

func TestSweepExpiredHolds_ConcurrentWithReserve(t *testing.T) {
	store := memory.NewStore()
	store.AddSchedule(1, 100)
	ctx := context.Background()

	for i := int64(1); i <= 50; i++ {
		_, err := store.ReserveSeats(ctx, 1, uuid.New(), []int64{i}, time.Millisecond)
		require.NoError(t, err)
	}

	deadline := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for seat := int64(51); seat <= 80; seat++ {
			_, err := store.ReserveSeats(ctx, 1, uuid.New(), []int64{seat}, time.Minute)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for time.Now().Before(deadline) {
			_, err := store.SweepExpiredHolds(ctx, time.Now())
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	_, err := store.SweepExpiredHolds(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	counts, err := store.Counts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), counts.Available)
}

func TestMarkResolved_PaymentOutcomeImmutable(t *testing.T) {
	store := memory.NewStore()
	store.AddSchedule(1, 10)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, store.Create(ctx, &domain.Booking{
		ID:            id,
		ScheduleID:    1,
		Seats:         []int64{1},
		PaymentStatus: domain.PaymentProcessing,
		BookingStatus: domain.BookingPending,
	}))

	require.NoError(t, store.MarkResolved(ctx, id, domain.PaymentPaid, domain.BookingConfirmed, "TX-1"))

	// the opposite outcome can no longer be written
	err := store.MarkResolved(ctx, id, domain.PaymentFailed, domain.BookingCancelled, "TX-1")
	assert.ErrorIs(t, err, repository.ErrConflict)

	// restating the same outcome is fine
	require.NoError(t, store.MarkResolved(ctx, id, domain.PaymentPaid, domain.BookingConfirmed, "TX-1"))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)
}
