// Package memory provides an in-process implementation of the inventory and
// booking store contracts. It backs service tests and mirrors the semantics
// of the postgres repositories: every mutation is one atomic step under a
// single mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository"
)

type seatState struct {
	status      domain.SeatStatus
	bookingID   uuid.UUID
	holdExpires time.Time
}

type scheduleState struct {
	capacity int
	seats    map[int64]*seatState // held/booked seats only; absence = available
}

type Store struct {
	mu        sync.Mutex
	schedules map[int64]*scheduleState
	holds     map[uuid.UUID]*domain.HoldRecord
	bookings  map[uuid.UUID]*domain.Booking

	// Now is the clock used for hold expiry inside Reserve and Commit.
	// Tests override it to move time.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		schedules: make(map[int64]*scheduleState),
		holds:     make(map[uuid.UUID]*domain.HoldRecord),
		bookings:  make(map[uuid.UUID]*domain.Booking),
		Now:       time.Now,
	}
}

// AddSchedule registers a schedule with the given seat capacity.
func (s *Store) AddSchedule(scheduleID int64, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[scheduleID] = &scheduleState{
		capacity: capacity,
		seats:    make(map[int64]*seatState),
	}
}

func (s *Store) ScheduleCapacity(_ context.Context, scheduleID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[scheduleID]
	if !ok {
		return 0, repository.ErrNotFound
	}

	return sched.capacity, nil
}

func (s *Store) ReserveSeats(
	_ context.Context,
	scheduleID int64,
	bookingID uuid.UUID,
	seats []int64,
	ttl time.Duration,
) (*domain.HoldRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	now := s.Now()
	s.freeExpiredSeatsLocked(now)

	if _, exists := s.holds[bookingID]; exists {
		return nil, repository.ErrConflict
	}

	var conflicting []int64
	for _, n := range seats {
		if _, taken := sched.seats[n]; taken {
			conflicting = append(conflicting, n)
		}
	}
	if len(conflicting) > 0 {
		sort.Slice(conflicting, func(i, j int) bool { return conflicting[i] < conflicting[j] })
		return nil, &repository.SeatConflictError{
			ScheduleID:       scheduleID,
			ConflictingSeats: conflicting,
		}
	}

	expires := now.Add(ttl)
	for _, n := range seats {
		sched.seats[n] = &seatState{
			status:      domain.SeatHeld,
			bookingID:   bookingID,
			holdExpires: expires,
		}
	}

	hold := &domain.HoldRecord{
		BookingID:  bookingID,
		ScheduleID: scheduleID,
		Seats:      append([]int64(nil), seats...),
		CreatedAt:  now,
		ExpiresAt:  expires,
	}
	s.holds[bookingID] = hold

	cp := *hold
	return &cp, nil
}

func (s *Store) CommitBooking(_ context.Context, bookingID uuid.UUID) (domain.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.CommitResult{}, repository.ErrNotFound
	}

	if b.Committed {
		return domain.CommitResult{AlreadyCommitted: true, ScheduleID: b.ScheduleID}, nil
	}

	hold, ok := s.holds[bookingID]
	if !ok || !hold.ExpiresAt.After(s.Now()) {
		return domain.CommitResult{}, repository.ErrHoldNotFound
	}

	sched := s.schedules[hold.ScheduleID]
	for _, n := range hold.Seats {
		sched.seats[n] = &seatState{status: domain.SeatBooked, bookingID: bookingID}
	}
	delete(s.holds, bookingID)

	b.Committed = true
	b.PaymentStatus = domain.PaymentPaid

	return domain.CommitResult{AlreadyCommitted: false, ScheduleID: b.ScheduleID}, nil
}

func (s *Store) ReleaseBooking(_ context.Context, bookingID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bookings[bookingID]; ok && b.Committed {
		sched := s.schedules[b.ScheduleID]
		released := false
		for n, st := range sched.seats {
			if st.bookingID == bookingID && st.status == domain.SeatBooked {
				delete(sched.seats, n)
				released = true
			}
		}
		if !released {
			return 0, nil
		}
		return b.ScheduleID, nil
	}

	hold, ok := s.holds[bookingID]
	if !ok {
		return 0, nil
	}

	sched := s.schedules[hold.ScheduleID]
	for _, n := range hold.Seats {
		if st, held := sched.seats[n]; held && st.bookingID == bookingID {
			delete(sched.seats, n)
		}
	}
	delete(s.holds, bookingID)

	return hold.ScheduleID, nil
}

func (s *Store) SweepExpiredHolds(_ context.Context, now time.Time) ([]domain.HoldRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []domain.HoldRecord
	for id, hold := range s.holds {
		if hold.ExpiresAt.After(now) {
			continue
		}
		s.freeSeatsLocked(id, hold)
		swept = append(swept, *hold)
		delete(s.holds, id)
	}

	return swept, nil
}

// freeExpiredSeatsLocked returns expired holds' seats to the pool but keeps
// the hold records: only SweepExpiredHolds consumes them, so every expired
// booking is reported to the ledger exactly once.
func (s *Store) freeExpiredSeatsLocked(now time.Time) {
	for id, hold := range s.holds {
		if hold.ExpiresAt.After(now) {
			continue
		}
		s.freeSeatsLocked(id, hold)
	}
}

func (s *Store) freeSeatsLocked(id uuid.UUID, hold *domain.HoldRecord) {
	sched := s.schedules[hold.ScheduleID]
	for _, n := range hold.Seats {
		if st, held := sched.seats[n]; held && st.bookingID == id && st.status == domain.SeatHeld {
			delete(sched.seats, n)
		}
	}
}

// Counts reports seat counters for a schedule, for test assertions and the
// availability read path.
func (s *Store) Counts(_ context.Context, scheduleID int64) (*domain.ScheduleCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	sc := domain.ScheduleCounts{Total: int64(sched.capacity)}
	for _, st := range sched.seats {
		switch st.status {
		case domain.SeatHeld:
			sc.Held++
		case domain.SeatBooked:
			sc.Booked++
		}
	}
	sc.Available = sc.Total - sc.Held - sc.Booked

	return &sc, nil
}

func (s *Store) Create(_ context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.ID]; exists {
		return repository.ErrConflict
	}

	cp := cloneBooking(b)
	s.bookings[b.ID] = cp

	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return cloneBooking(b), nil
}

func (s *Store) RecordObservation(
	_ context.Context,
	id uuid.UUID,
	status domain.PaymentStatus,
	txRef string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}

	if b.PaymentStatus.Terminal() {
		return repository.ErrConflict
	}

	b.PaymentStatus = status
	if txRef != "" {
		b.TxRef = txRef
	}

	return nil
}

func (s *Store) MarkResolved(
	_ context.Context,
	id uuid.UUID,
	payment domain.PaymentStatus,
	booking domain.BookingStatus,
	txRef string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}

	if b.BookingStatus.Terminal() {
		return repository.ErrConflict
	}
	if b.PaymentStatus.Terminal() && b.PaymentStatus != payment {
		return repository.ErrConflict
	}

	b.PaymentStatus = payment
	b.BookingStatus = booking
	if txRef != "" {
		b.TxRef = txRef
	}

	return nil
}

func (s *Store) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}

	if b.BookingStatus != domain.BookingPending && b.BookingStatus != domain.BookingConfirmed {
		return repository.ErrConflict
	}

	b.BookingStatus = domain.BookingCancelled

	return nil
}

func (s *Store) ListStaleInFlight(_ context.Context, cutoff time.Time) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Booking
	for _, b := range s.bookings {
		if b.BookingStatus != domain.BookingPending {
			continue
		}
		if b.PaymentStatus != domain.PaymentProcessing && b.PaymentStatus != domain.PaymentRedirected {
			continue
		}
		if !b.PaymentInitiatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *cloneBooking(b))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PaymentInitiatedAt.Before(out[j].PaymentInitiatedAt)
	})

	return out, nil
}

func (s *Store) MarkHoldsExpired(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		b, ok := s.bookings[id]
		if !ok {
			continue
		}
		if b.BookingStatus != domain.BookingPending || b.PaymentStatus.Terminal() {
			continue
		}
		b.PaymentStatus = domain.PaymentFailed
		b.BookingStatus = domain.BookingCancelled
		n++
	}

	return n, nil
}

// SeatStatus reports the state of a single seat, for test assertions.
func (s *Store) SeatStatus(scheduleID, seatNo int64) (domain.SeatStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[scheduleID]
	if !ok {
		return "", repository.ErrNotFound
	}
	if seatNo < 1 || seatNo > int64(sched.capacity) {
		return "", fmt.Errorf("seat %d out of range: %w", seatNo, repository.ErrNotFound)
	}

	st, taken := sched.seats[seatNo]
	if !taken {
		return domain.SeatAvailable, nil
	}

	return st.status, nil
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	cp.Seats = append([]int64(nil), b.Seats...)
	return &cp
}
