package domain

type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentProcessing PaymentStatus = "processing"
	PaymentRedirected PaymentStatus = "redirected"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no_show"
)

// paymentRank orders payment states: terminal states rank highest and a
// transition may never decrease the rank. processing and redirected share a
// rank because gateways report them in either order.
var paymentRank = map[PaymentStatus]int{
	PaymentInitiated:  0,
	PaymentProcessing: 1,
	PaymentRedirected: 1,
	PaymentPaid:       2,
	PaymentFailed:     2,
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentRank[s]
	return ok
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// CanTransition reports whether payment status may move from s to next.
// Once terminal, nothing is accepted; equal-rank switches are allowed only
// between the two mid-flight states.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	from, ok := paymentRank[s]
	if !ok {
		return false
	}
	to, ok := paymentRank[next]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	if to == from {
		return to == 1 && s != next
	}
	return to > from
}

func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCancelled, BookingCompleted, BookingNoShow:
		return true
	}
	return false
}

// BookingStatusFor derives the booking status implied by a payment status.
// completed/no_show are post-travel states set elsewhere and never derived.
func BookingStatusFor(p PaymentStatus) BookingStatus {
	switch p {
	case PaymentPaid:
		return BookingConfirmed
	case PaymentFailed:
		return BookingCancelled
	default:
		return BookingPending
	}
}
