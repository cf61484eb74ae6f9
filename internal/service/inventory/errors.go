package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNoSeats          = errors.New("no seats selected")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrHoldConflict     = errors.New("conflict creating hold")
)

// SeatConflictError carries the seats that could not be held so the caller
// can offer alternatives.
type SeatConflictError struct {
	ScheduleID       int64
	ConflictingSeats []int64
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf(
		"seats unavailable on schedule %d: %v",
		e.ScheduleID, e.ConflictingSeats,
	)
}

// SeatRangeError reports requested seats outside 1..capacity.
type SeatRangeError struct {
	ScheduleID int64
	Capacity   int
	Seats      []int64
}

func (e *SeatRangeError) Error() string {
	return fmt.Sprintf(
		"seats out of range on schedule %d (capacity %d): %v",
		e.ScheduleID, e.Capacity, e.Seats,
	)
}

// HoldNotFoundError means a commit was attempted against a missing or
// expired hold. The caller must re-run conflict detection before treating
// the booking as payable.
type HoldNotFoundError struct {
	BookingID uuid.UUID
}

func (e *HoldNotFoundError) Error() string {
	return fmt.Sprintf("no active hold for booking %s", e.BookingID)
}
