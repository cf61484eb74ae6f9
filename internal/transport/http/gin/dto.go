package httpgin

import "time"

type CreateBookingRequest struct {
	Seats          []int64 `json:"seats" binding:"required,min=1,dive,required"`
	PassengerName  string  `json:"passenger_name" binding:"required"`
	PassengerPhone string  `json:"passenger_phone"`
	TotalCents     int     `json:"total_cents" binding:"required,gt=0"`
}

type CreateBookingResponse struct {
	BookingID     string  `json:"booking_id"`
	ScheduleID    int64   `json:"schedule_id"`
	Seats         []int64 `json:"seats"`
	PaymentStatus string  `json:"payment_status"`
	BookingStatus string  `json:"booking_status"`
	TotalCents    int     `json:"total_cents"`
}

type PaymentCallbackRequest struct {
	BookingID string `json:"booking_id" binding:"required,uuid"`
	Status    string `json:"status" binding:"required"`
	TxRef     string `json:"tx_ref"`
}

type BookingResponse struct {
	BookingID      string  `json:"booking_id"`
	ScheduleID     int64   `json:"schedule_id"`
	Seats          []int64 `json:"seats"`
	PassengerName  string  `json:"passenger_name"`
	PassengerPhone string  `json:"passenger_phone,omitempty"`
	TxRef          string  `json:"tx_ref,omitempty"`
	PaymentStatus  string  `json:"payment_status"`
	BookingStatus  string  `json:"booking_status"`
	TotalCents     int     `json:"total_cents"`
	CreatedAt      string  `json:"created_at"`
}

type CreateScheduleRequest struct {
	Route     string `json:"route" binding:"required"`
	DepartsAt string `json:"departs_at" binding:"required"`
	Capacity  int    `json:"capacity" binding:"required,gt=0"`
	FareCents int    `json:"fare_cents" binding:"required,gt=0"`
}

type CreateScheduleResponse struct {
	ScheduleID int64 `json:"schedule_id"`
}

type ErrorResponse struct {
	Error            string  `json:"error"`
	ConflictingSeats []int64 `json:"conflicting_seats,omitempty"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
