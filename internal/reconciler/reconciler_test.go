package reconciler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/gateway"
	"github.com/bustix/bustix/internal/reconciler"
	"github.com/bustix/bustix/internal/repository/memory"
	"github.com/bustix/bustix/internal/service/inventory"
	"github.com/bustix/bustix/internal/service/ledger"
)

type fakeVerifier struct {
	results map[string]gateway.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeVerifier) Verify(_ context.Context, txRef string) (gateway.Result, error) {
	f.calls = append(f.calls, txRef)
	if err, ok := f.errs[txRef]; ok {
		return gateway.Result{}, err
	}
	return f.results[txRef], nil
}

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Service
	inv      *inventory.Service
	verifier *fakeVerifier
	rec      *reconciler.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.AddSchedule(1, 40)

	// holds outlive the staleness threshold so verification can still
	// commit seats for late payments
	inv := inventory.New(store, nil, nil, inventory.Config{DefaultHoldTTL: 30 * time.Minute})
	led := ledger.New(store, inv, nil, nil, ledger.Config{HoldTTL: 30 * time.Minute})
	verifier := &fakeVerifier{
		results: make(map[string]gateway.Result),
		errs:    make(map[string]error),
	}

	return &fixture{
		store:    store,
		ledger:   led,
		inv:      inv,
		verifier: verifier,
		rec: reconciler.New(led, inv, verifier, nil, reconciler.Config{
			Interval:   5 * time.Minute,
			StaleAfter: 15 * time.Minute,
		}),
	}
}

func (f *fixture) staleBooking(t *testing.T, seat int64, txRef string) *domain.Booking {
	t.Helper()
	ctx := context.Background()

	b, err := f.ledger.CreateBooking(ctx, 1, []int64{seat}, domain.Passenger{Name: "A"}, 1000, "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.RecordPaymentObservation(ctx, b.ID, domain.PaymentProcessing, txRef))

	return b
}

func TestRunCycle_ResolvesPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.staleBooking(t, 5, "TX-PAID")
	f.verifier.results["TX-PAID"] = gateway.Result{Status: domain.PaymentPaid, TransactionID: "TX-PAID"}

	require.NoError(t, f.rec.RunCycle(ctx, time.Now().Add(20*time.Minute)))

	got, err := f.ledger.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)
	assert.True(t, got.Committed)
}

func TestRunCycle_ResolvesFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.staleBooking(t, 5, "TX-FAIL")
	f.verifier.results["TX-FAIL"] = gateway.Result{Status: domain.PaymentFailed}

	require.NoError(t, f.rec.RunCycle(ctx, time.Now().Add(20*time.Minute)))

	got, err := f.ledger.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.BookingStatus)

	st, err := f.store.SeatStatus(1, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, st)
}

func TestRunCycle_TransientErrorLeavesBookingStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.staleBooking(t, 5, "TX-DOWN")
	f.verifier.errs["TX-DOWN"] = &gateway.TransientError{TxRef: "TX-DOWN"}

	require.NoError(t, f.rec.RunCycle(ctx, time.Now().Add(20*time.Minute)))

	got, err := f.ledger.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.BookingStatus)
	assert.Equal(t, domain.PaymentProcessing, got.PaymentStatus)

	// still stale: the next cycle re-verifies
	stale, err := f.ledger.ListStaleInFlight(ctx, 15*time.Minute, time.Now().Add(25*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, b.ID, stale[0].ID)
}

func TestRunCycle_PendingSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.staleBooking(t, 5, "TX-WAIT")
	f.verifier.results["TX-WAIT"] = gateway.Result{Status: domain.PaymentProcessing}

	require.NoError(t, f.rec.RunCycle(ctx, time.Now().Add(20*time.Minute)))

	got, err := f.ledger.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.BookingStatus)
}

func TestRunCycle_OneFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := f.staleBooking(t, 1, "TX-BAD")
	good := f.staleBooking(t, 2, "TX-GOOD")

	f.verifier.errs["TX-BAD"] = &gateway.TransientError{TxRef: "TX-BAD"}
	f.verifier.results["TX-GOOD"] = gateway.Result{Status: domain.PaymentPaid}

	require.NoError(t, f.rec.RunCycle(ctx, time.Now().Add(20*time.Minute)))

	assert.ElementsMatch(t, []string{"TX-BAD", "TX-GOOD"}, f.verifier.calls)

	got, err := f.ledger.GetBooking(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.BookingStatus)

	got, err = f.ledger.GetBooking(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.BookingStatus)
}

func TestRunCycle_SweepsExpiredHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// booking that never entered processing; its hold times out
	b, err := f.ledger.CreateBooking(ctx, 1, []int64{9}, domain.Passenger{Name: "B"}, 1000, "")
	require.NoError(t, err)

	require.NoError(t, f.rec.RunCycle(ctx, time.Now().Add(40*time.Minute)))

	got, err := f.ledger.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, domain.BookingCancelled, got.BookingStatus)

	st, err := f.store.SeatStatus(1, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, st)
}

func TestRunCycle_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.staleBooking(t, 5, "TX-PAID")
	f.verifier.results["TX-PAID"] = gateway.Result{Status: domain.PaymentPaid}

	now := time.Now().Add(20 * time.Minute)
	require.NoError(t, f.rec.RunCycle(ctx, now))
	require.NoError(t, f.rec.RunCycle(ctx, now))

	counts, err := f.store.Counts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Booked)
	assert.Equal(t, int64(39), counts.Available)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
