package domain

import (
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatBooked    SeatStatus = "booked"
)

type Schedule struct {
	ID        int64
	Route     string
	Departs   time.Time
	Capacity  int
	FareCents int
}

type SeatWithStatus struct {
	ScheduleID int64
	SeatNo     int64
	Status     SeatStatus
}

type ScheduleCounts struct {
	Available int64
	Held      int64
	Booked    int64
	Total     int64
}

// HoldRecord is a time-limited reservation of seats against a schedule,
// pending payment resolution. One hold per booking.
type HoldRecord struct {
	BookingID  uuid.UUID
	ScheduleID int64
	Seats      []int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type Passenger struct {
	Name  string
	Phone string
}

type Booking struct {
	ID                 uuid.UUID
	ScheduleID         int64
	Seats              []int64
	Passenger          Passenger
	TxRef              string
	PaymentStatus      PaymentStatus
	BookingStatus      BookingStatus
	PaymentInitiatedAt time.Time
	// Committed flips false -> true exactly once, when the hold's seats are
	// moved into the booked set. A retried commit sees it set and does not
	// touch inventory again.
	Committed  bool
	TotalCents int
	CreatedAt  time.Time
}

// CommitResult reports the outcome of moving a booking's held seats into the
// booked set.
type CommitResult struct {
	AlreadyCommitted bool
	ScheduleID       int64
}
