package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository"
)

// Store is the atomic seat-inventory mutation contract. Implementations
// guarantee each method is a single atomic step with respect to concurrent
// calls on the same schedule (serializable transaction, single lock).
type Store interface {
	ScheduleCapacity(ctx context.Context, scheduleID int64) (int, error)
	ReserveSeats(ctx context.Context, scheduleID int64, bookingID uuid.UUID, seats []int64, ttl time.Duration) (*domain.HoldRecord, error)
	CommitBooking(ctx context.Context, bookingID uuid.UUID) (domain.CommitResult, error)
	ReleaseBooking(ctx context.Context, bookingID uuid.UUID) (int64, error)
	SweepExpiredHolds(ctx context.Context, now time.Time) ([]domain.HoldRecord, error)
}

// SummaryCache invalidates cached schedule reads after inventory changes.
type SummaryCache interface {
	InvalidateSchedule(ctx context.Context, scheduleID int64) error
}

// ChangeNotifier broadcasts that a schedule's availability changed.
type ChangeNotifier interface {
	PublishScheduleChanged(ctx context.Context, scheduleID int64) error
}

type Config struct {
	DefaultHoldTTL time.Duration
	MinHoldTTL     time.Duration
	MaxHoldTTL     time.Duration
}

// Service is the seat inventory coordinator: the only writer of seat state.
type Service struct {
	store    Store
	cache    SummaryCache
	notifier ChangeNotifier
	cfg      Config
}

func New(store Store, cache SummaryCache, notifier ChangeNotifier, cfg Config) *Service {
	if cfg.DefaultHoldTTL <= 0 {
		cfg.DefaultHoldTTL = 10 * time.Minute
	}

	if cfg.MinHoldTTL <= 0 {
		cfg.MinHoldTTL = time.Minute
	}

	if cfg.MaxHoldTTL <= 0 || cfg.MaxHoldTTL < cfg.MinHoldTTL {
		cfg.MaxHoldTTL = 30 * time.Minute
	}

	return &Service{
		store:    store,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Reserve places a hold on the given seats for a booking.
//
// Parameters:
//   - ctx: request-scoped context.
//   - scheduleID: schedule the seats belong to.
//   - bookingID: booking the hold is for.
//   - seats: seat numbers to hold, 1..capacity.
//   - ttl: hold time-to-live; zero means the configured default.
//
// Returns:
//   - *domain.HoldRecord: the created hold.
//   - error: *inventory.SeatConflictError if any seat is unavailable; no
//     mutation is performed in that case.
//   - error: *inventory.SeatRangeError if a seat is outside the schedule.
//   - error: inventory.ErrScheduleNotFound if the schedule does not exist.
func (s *Service) Reserve(
	ctx context.Context,
	scheduleID int64,
	bookingID uuid.UUID,
	seats []int64,
	ttl time.Duration,
) (*domain.HoldRecord, error) {
	const op = "service.inventory.Reserve"

	if len(seats) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoSeats)
	}

	capacity, err := s.store.ScheduleCapacity(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var outOfRange []int64
	for _, n := range seats {
		if n < 1 || n > int64(capacity) {
			outOfRange = append(outOfRange, n)
		}
	}
	if len(outOfRange) > 0 {
		return nil, fmt.Errorf("%s:%w", op, &SeatRangeError{
			ScheduleID: scheduleID,
			Capacity:   capacity,
			Seats:      outOfRange,
		})
	}

	hold, err := s.store.ReserveSeats(ctx, scheduleID, bookingID, seats, s.clampTTL(ttl))
	if err != nil {
		var conflict *repository.SeatConflictError
		if errors.As(err, &conflict) {
			return nil, fmt.Errorf("%s:%w", op, &SeatConflictError{
				ScheduleID:       conflict.ScheduleID,
				ConflictingSeats: conflict.ConflictingSeats,
			})
		}

		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrHoldConflict)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, scheduleID)

	return hold, nil
}

// Commit moves the hold's seats into the booked set, exactly once per
// booking. A retried commit reports AlreadyCommitted and performs no
// inventory mutation.
//
// Returns:
//   - error: *inventory.HoldNotFoundError if no active hold exists for the
//     booking (for example the hold already expired).
//   - error: inventory.ErrBookingNotFound if the booking does not exist.
func (s *Service) Commit(ctx context.Context, bookingID uuid.UUID) (domain.CommitResult, error) {
	const op = "service.inventory.Commit"

	res, err := s.store.CommitBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrHoldNotFound) {
			return domain.CommitResult{}, fmt.Errorf("%s:%w", op, &HoldNotFoundError{BookingID: bookingID})
		}

		if errors.Is(err, repository.ErrNotFound) {
			return domain.CommitResult{}, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}

		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, err)
	}

	if !res.AlreadyCommitted {
		s.invalidate(ctx, res.ScheduleID)
	}

	return res, nil
}

// Release returns a booking's seats to the available pool. Idempotent: no
// hold and not committed is a no-op. A committed booking has its booked
// seats freed (cancellation after confirmation).
func (s *Service) Release(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.inventory.Release"

	scheduleID, err := s.store.ReleaseBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if scheduleID != 0 {
		s.invalidate(ctx, scheduleID)
	}

	return nil
}

// SweepExpiredHolds releases every hold expired at now and returns the
// affected booking IDs so the ledger can mark those bookings. Safe to run
// concurrently with Reserve and Commit.
func (s *Service) SweepExpiredHolds(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const op = "service.inventory.SweepExpiredHolds"

	swept, err := s.store.SweepExpiredHolds(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	seen := make(map[int64]struct{})
	ids := make([]uuid.UUID, 0, len(swept))
	for _, h := range swept {
		ids = append(ids, h.BookingID)
		if _, ok := seen[h.ScheduleID]; !ok {
			seen[h.ScheduleID] = struct{}{}
			s.invalidate(ctx, h.ScheduleID)
		}
	}

	return ids, nil
}

func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultHoldTTL
	}

	if ttl < s.cfg.MinHoldTTL {
		return s.cfg.MinHoldTTL
	}

	if ttl > s.cfg.MaxHoldTTL {
		return s.cfg.MaxHoldTTL
	}

	return ttl
}

func (s *Service) invalidate(ctx context.Context, scheduleID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateSchedule(ctx, scheduleID)
	}
	if s.notifier != nil {
		_ = s.notifier.PublishScheduleChanged(ctx, scheduleID)
	}
}
