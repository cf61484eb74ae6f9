package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository/memory"
	"github.com/bustix/bustix/internal/service/inventory"
	"github.com/bustix/bustix/internal/service/ledger"
)

func newLedger(t *testing.T) (*ledger.Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	store.AddSchedule(1, 40)

	inv := inventory.New(store, nil, nil, inventory.Config{})
	svc := ledger.New(store, inv, nil, nil, ledger.Config{HoldTTL: 10 * time.Minute})

	return svc, store
}

func createBooking(t *testing.T, svc *ledger.Service, seats []int64) *domain.Booking {
	t.Helper()

	b, err := svc.CreateBooking(
		context.Background(), 1, seats,
		domain.Passenger{Name: "Asha", Phone: "+254700000001"},
		2500, "",
	)
	require.NoError(t, err)

	return b
}

func TestCreateBooking(t *testing.T) {
	svc, store := newLedger(t)

	b := createBooking(t, svc, []int64{12, 13})

	assert.Equal(t, domain.PaymentInitiated, b.PaymentStatus)
	assert.Equal(t, domain.BookingPending, b.BookingStatus)
	assert.Equal(t, []int64{12, 13}, b.Seats)
	assert.False(t, b.Committed)

	st, err := store.SeatStatus(1, 12)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatHeld, st)
}

func TestCreateBooking_SeatConflict(t *testing.T) {
	svc, store := newLedger(t)

	createBooking(t, svc, []int64{12})

	_, err := svc.CreateBooking(
		context.Background(), 1, []int64{12, 14},
		domain.Passenger{Name: "Brian"}, 2500, "",
	)
	require.Error(t, err)

	var conflict *inventory.SeatConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int64{12}, conflict.ConflictingSeats)

	// failed create leaves no booking and no hold on seat 14
	st, err := store.SeatStatus(1, 14)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, st)
}

func TestCreateBooking_InvalidAmount(t *testing.T) {
	svc, _ := newLedger(t)

	_, err := svc.CreateBooking(
		context.Background(), 1, []int64{1},
		domain.Passenger{Name: "Asha"}, 0, "",
	)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestRecordPaymentObservation_Forward(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{5})

	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, "TX-1"))

	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentProcessing, got.PaymentStatus)
	assert.Equal(t, "TX-1", got.TxRef)

	// processing <-> redirected both ways
	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentRedirected, ""))
	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, ""))
}

func TestRecordPaymentObservation_BackwardRejected(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{5})
	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, "TX-1"))

	err := svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentInitiated, "")

	var stateErr *ledger.InconsistentStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.PaymentProcessing, stateErr.From)
	assert.Equal(t, domain.PaymentInitiated, stateErr.To)

	// nothing mutated
	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentProcessing, got.PaymentStatus)
}

func TestRecordPaymentObservation_SameStatusNoop(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{5})
	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, ""))
	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, ""))
}

func TestRecordPaymentObservation_TerminalRejected(t *testing.T) {
	svc, _ := newLedger(t)

	b := createBooking(t, svc, []int64{5})

	err := svc.RecordPaymentObservation(context.Background(), b.ID, domain.PaymentPaid, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidStatus)
}

func TestResolvePayment_Paid(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{7, 8})
	require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, "TX-7"))

	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-7"))

	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)
	assert.True(t, got.Committed)

	st, err := store.SeatStatus(1, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatBooked, st)
}

func TestResolvePayment_PaidIdempotent(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{7})
	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-7"))

	// re-delivered outcome changes nothing
	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-7"))

	counts, err := store.Counts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Booked)
	assert.Equal(t, int64(39), counts.Available)
}

func TestResolvePayment_Failed(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{7})
	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentFailed, "TX-7"))

	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, domain.BookingCancelled, got.BookingStatus)

	st, err := store.SeatStatus(1, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, st)

	// re-delivery of failed is a no-op
	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentFailed, "TX-7"))
}

func TestResolvePayment_ConflictingOutcome(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{7})
	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-7"))

	err := svc.ResolvePayment(ctx, b.ID, domain.PaymentFailed, "TX-7")

	var stateErr *ledger.InconsistentStateError
	require.ErrorAs(t, err, &stateErr)

	// confirmed booking stays confirmed
	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)
}

func TestResolvePayment_HoldExpired(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{7})

	store.Now = func() time.Time { return time.Now().Add(time.Hour) }

	err := svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-7")

	var holdErr *inventory.HoldNotFoundError
	require.ErrorAs(t, err, &holdErr)
	assert.Equal(t, b.ID, holdErr.BookingID)

	// booking stays pending, nothing resolved
	got, getErr := svc.GetBooking(ctx, b.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.BookingPending, got.BookingStatus)
}

func TestCancel(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{4})
	require.NoError(t, svc.Cancel(ctx, b.ID))

	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.BookingStatus)

	st, err := store.SeatStatus(1, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, st)

	// cancelling again is a no-op
	require.NoError(t, svc.Cancel(ctx, b.ID))
}

func TestCancel_AfterConfirm(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{4})
	require.NoError(t, svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-4"))

	require.NoError(t, svc.Cancel(ctx, b.ID))

	st, err := store.SeatStatus(1, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, st)
}

func TestListStaleInFlight(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	stale := createBooking(t, svc, []int64{1})
	require.NoError(t, svc.RecordPaymentObservation(ctx, stale.ID, domain.PaymentProcessing, "TX-S"))

	second := createBooking(t, svc, []int64{2})
	require.NoError(t, svc.RecordPaymentObservation(ctx, second.ID, domain.PaymentProcessing, "TX-F"))

	// only initiated, never entered processing: not in the stale set
	createBooking(t, svc, []int64{3})

	got, err := svc.ListStaleInFlight(ctx, 15*time.Minute, time.Now().Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = svc.ListStaleInFlight(ctx, 15*time.Minute, time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkHoldsExpired(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	b := createBooking(t, svc, []int64{1})
	resolved := createBooking(t, svc, []int64{2})
	require.NoError(t, svc.ResolvePayment(ctx, resolved.ID, domain.PaymentPaid, "TX-R"))

	require.NoError(t, svc.MarkHoldsExpired(ctx, []uuid.UUID{b.ID, resolved.ID, uuid.New()}))

	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, domain.BookingCancelled, got.BookingStatus)

	// the resolved booking is untouched
	got, err = svc.GetBooking(ctx, resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)
}

func TestGetBooking_NotFound(t *testing.T) {
	svc, _ := newLedger(t)

	_, err := svc.GetBooking(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrBookingNotFound)
}

func TestResolvePayment_ConcurrentOppositeOutcomes(t *testing.T) {
	for i := 0; i < 25; i++ {
		svc, store := newLedger(t)
		ctx := context.Background()

		b := createBooking(t, svc, []int64{7})
		require.NoError(t, svc.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, "TX-C"))

		var (
			wg      sync.WaitGroup
			paidErr error
			failErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			paidErr = svc.ResolvePayment(ctx, b.ID, domain.PaymentPaid, "TX-C")
		}()
		go func() {
			defer wg.Done()
			failErr = svc.ResolvePayment(ctx, b.ID, domain.PaymentFailed, "TX-C")
		}()
		wg.Wait()

		got, err := svc.GetBooking(ctx, b.ID)
		require.NoError(t, err)

		// whichever outcome landed first wins; the other must fail loudly
		// and leave both the booking and the seat untouched
		var stateErr *ledger.InconsistentStateError
		switch got.PaymentStatus {
		case domain.PaymentPaid:
			require.NoError(t, paidErr)
			require.ErrorAs(t, failErr, &stateErr)
			assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)
			assert.True(t, got.Committed)

			st, err := store.SeatStatus(1, 7)
			require.NoError(t, err)
			assert.Equal(t, domain.SeatBooked, st)
		case domain.PaymentFailed:
			require.NoError(t, failErr)
			require.ErrorAs(t, paidErr, &stateErr)
			assert.Equal(t, domain.BookingCancelled, got.BookingStatus)
			assert.False(t, got.Committed)

			st, err := store.SeatStatus(1, 7)
			require.NoError(t, err)
			assert.Equal(t, domain.SeatAvailable, st)
		default:
			t.Fatalf("payment did not resolve: %s", got.PaymentStatus)
		}
	}
}
