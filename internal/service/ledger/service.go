package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository"
	redisrepo "github.com/bustix/bustix/internal/repository/redis"
)

// Store is the booking persistence contract.
type Store interface {
	Create(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	RecordObservation(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, txRef string) error
	MarkResolved(ctx context.Context, id uuid.UUID, payment domain.PaymentStatus, booking domain.BookingStatus, txRef string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	ListStaleInFlight(ctx context.Context, cutoff time.Time) ([]domain.Booking, error)
	MarkHoldsExpired(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Inventory is the slice of the seat inventory coordinator the ledger
// drives. Commit and Release are idempotent per booking.
type Inventory interface {
	Reserve(ctx context.Context, scheduleID int64, bookingID uuid.UUID, seats []int64, ttl time.Duration) (*domain.HoldRecord, error)
	Commit(ctx context.Context, bookingID uuid.UUID) (domain.CommitResult, error)
	Release(ctx context.Context, bookingID uuid.UUID) error
}

type Config struct {
	HoldTTL time.Duration
}

// bookingLocks serializes resolution and cancellation per booking, so the
// check of the current state and the inventory effect it implies run as one
// unit. Striped by the first UUID byte: a collision only over-serializes.
type bookingLocks [64]sync.Mutex

func (l *bookingLocks) of(id uuid.UUID) *sync.Mutex {
	return &l[int(id[0])%len(l)]
}

// Service owns the booking state machine. It is the only writer of booking
// state; seat effects are delegated to the inventory coordinator.
type Service struct {
	store   Store
	inv     Inventory
	limiter *redisrepo.SlidingWindowLimiter
	logger  *slog.Logger
	cfg     Config
	locks   bookingLocks
}

func New(
	store Store,
	inv Inventory,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:   store,
		inv:     inv,
		limiter: limiter,
		logger:  logger,
		cfg:     cfg,
	}
}

// CreateBooking reserves the seats and records a pending booking. The seat
// hold and the booking come into existence together: a failed reserve means
// no booking row, and a failed insert releases the hold.
//
// Returns:
//   - *domain.Booking: the created booking, paymentStatus=initiated,
//     bookingStatus=pending.
//   - error: *inventory.SeatConflictError (wrapped) if seats are taken.
func (s *Service) CreateBooking(
	ctx context.Context,
	scheduleID int64,
	seats []int64,
	passenger domain.Passenger,
	totalCents int,
	rlKey string,
) (*domain.Booking, error) {
	const op = "service.ledger.CreateBooking"

	if totalCents <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidAmount)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: rate limited, retry in %s", op, retry)
		}
	}

	bookingID := uuid.New()

	hold, err := s.inv.Reserve(ctx, scheduleID, bookingID, seats, s.cfg.HoldTTL)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	now := time.Now()
	b := &domain.Booking{
		ID:                 bookingID,
		ScheduleID:         scheduleID,
		Seats:              hold.Seats,
		Passenger:          passenger,
		PaymentStatus:      domain.PaymentInitiated,
		BookingStatus:      domain.BookingPending,
		PaymentInitiatedAt: now,
		TotalCents:         totalCents,
		CreatedAt:          now,
	}

	if err := s.store.Create(ctx, b); err != nil {
		_ = s.inv.Release(ctx, bookingID)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.ledger.GetBooking"

	b, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// RecordPaymentObservation applies a mid-flight payment status. Payment
// status is monotonic: a backward transition is rejected with
// *InconsistentStateError and nothing is mutated.
func (s *Service) RecordPaymentObservation(
	ctx context.Context,
	bookingID uuid.UUID,
	status domain.PaymentStatus,
	txRef string,
) error {
	const op = "service.ledger.RecordPaymentObservation"

	if !status.Valid() || status.Terminal() {
		return fmt.Errorf("%s:%w", op, ErrInvalidStatus)
	}

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if b.PaymentStatus == status {
		return nil
	}

	if !b.PaymentStatus.CanTransition(status) {
		stateErr := &InconsistentStateError{
			BookingID: bookingID,
			From:      b.PaymentStatus,
			To:        status,
		}
		s.logger.Warn("rejected payment observation",
			"booking_id", bookingID.String(),
			"from", string(b.PaymentStatus),
			"to", string(status),
		)
		return fmt.Errorf("%s:%w", op, stateErr)
	}

	if err := s.store.RecordObservation(ctx, bookingID, status, txRef); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// ResolvePayment drives a booking to its terminal state from a verified
// payment outcome. paid commits the seats and confirms the booking; failed
// releases them and cancels it. Idempotent: re-delivery of the same outcome
// changes nothing, inventory effects are guarded by the coordinator's
// committed flag. Resolutions for one booking are serialized, so two
// concurrent deliveries with opposite outcomes cannot both pass the terminal
// checks; the loser gets *InconsistentStateError.
//
// Returns:
//   - error: *InconsistentStateError if the booking already resolved to the
//     opposite outcome.
//   - error: *inventory.HoldNotFoundError (wrapped) if payment succeeded but
//     the hold expired before commit.
func (s *Service) ResolvePayment(
	ctx context.Context,
	bookingID uuid.UUID,
	verified domain.PaymentStatus,
	txRef string,
) error {
	const op = "service.ledger.ResolvePayment"

	if verified != domain.PaymentPaid && verified != domain.PaymentFailed {
		return fmt.Errorf("%s:%w", op, ErrInvalidStatus)
	}

	mu := s.locks.of(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if b.BookingStatus.Terminal() {
		if b.PaymentStatus == verified {
			return nil
		}
		stateErr := &InconsistentStateError{
			BookingID: bookingID,
			From:      b.PaymentStatus,
			To:        verified,
			Reason: fmt.Sprintf(
				"verified outcome %s conflicts with terminal booking status %s",
				verified, b.BookingStatus,
			),
		}
		s.logger.Error("conflicting payment resolution",
			"booking_id", bookingID.String(),
			"booking_status", string(b.BookingStatus),
			"verified", string(verified),
		)
		return fmt.Errorf("%s:%w", op, stateErr)
	}

	if b.PaymentStatus.Terminal() && b.PaymentStatus != verified {
		stateErr := &InconsistentStateError{
			BookingID: bookingID,
			From:      b.PaymentStatus,
			To:        verified,
		}
		s.logger.Error("conflicting payment resolution",
			"booking_id", bookingID.String(),
			"from", string(b.PaymentStatus),
			"to", string(verified),
		)
		return fmt.Errorf("%s:%w", op, stateErr)
	}

	switch verified {
	case domain.PaymentPaid:
		res, err := s.inv.Commit(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if res.AlreadyCommitted {
			s.logger.Info("commit replay ignored", "booking_id", bookingID.String())
		}
	case domain.PaymentFailed:
		if err := s.inv.Release(ctx, bookingID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	if err := s.store.MarkResolved(
		ctx, bookingID, verified, domain.BookingStatusFor(verified), txRef,
	); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("payment resolved",
		"booking_id", bookingID.String(),
		"outcome", string(verified),
	)

	return nil
}

// Cancel cancels a pending or confirmed booking on user/operator action.
// Held or booked seats return to the pool. Cancelling an already cancelled
// booking is a no-op.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.ledger.Cancel"

	mu := s.locks.of(bookingID)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if b.BookingStatus == domain.BookingCancelled {
		return nil
	}

	if b.BookingStatus.Terminal() {
		return fmt.Errorf("%s:%w", op, &InconsistentStateError{
			BookingID: bookingID,
			Reason:    fmt.Sprintf("cannot cancel %s booking", b.BookingStatus),
		})
	}

	if err := s.inv.Release(ctx, bookingID); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.MarkCancelled(ctx, bookingID); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("booking cancelled", "booking_id", bookingID.String())

	return nil
}

// ListStaleInFlight returns bookings whose payment has sat in processing or
// redirected since before now-olderThan, still awaiting resolution.
func (s *Service) ListStaleInFlight(
	ctx context.Context,
	olderThan time.Duration,
	now time.Time,
) ([]domain.Booking, error) {
	const op = "service.ledger.ListStaleInFlight"

	stale, err := s.store.ListStaleInFlight(ctx, now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return stale, nil
}

// MarkHoldsExpired fails the bookings whose seat holds were swept. Bookings
// that resolved in the meantime are left untouched.
func (s *Service) MarkHoldsExpired(ctx context.Context, ids []uuid.UUID) error {
	const op = "service.ledger.MarkHoldsExpired"

	if len(ids) == 0 {
		return nil
	}

	n, err := s.store.MarkHoldsExpired(ctx, ids)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if n > 0 {
		s.logger.Info("expired holds cancelled", "count", n)
	}

	return nil
}
