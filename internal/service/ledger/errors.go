package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bustix/bustix/internal/domain"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrInvalidAmount   = errors.New("total must be positive")
	ErrInvalidStatus   = errors.New("unknown payment status")
)

// InconsistentStateError reports a rejected state transition: a backward
// payment move, a conflicting terminal outcome, or a cancel of a finished
// booking. The operation was not applied.
type InconsistentStateError struct {
	BookingID uuid.UUID
	From      domain.PaymentStatus
	To        domain.PaymentStatus
	Reason    string
}

func (e *InconsistentStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("booking %s: %s", e.BookingID, e.Reason)
	}
	return fmt.Sprintf(
		"booking %s: illegal payment transition %s -> %s",
		e.BookingID, e.From, e.To,
	)
}
