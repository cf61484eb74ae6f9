package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrHoldNotFound = errors.New("no active hold for booking")
)

// SeatConflictError reports which of the requested seats are not available.
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
