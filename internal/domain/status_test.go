package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{"initiated to processing", PaymentInitiated, PaymentProcessing, true},
		{"initiated to redirected", PaymentInitiated, PaymentRedirected, true},
		{"initiated to paid", PaymentInitiated, PaymentPaid, true},
		{"initiated to failed", PaymentInitiated, PaymentFailed, true},
		{"processing to redirected", PaymentProcessing, PaymentRedirected, true},
		{"redirected to processing", PaymentRedirected, PaymentProcessing, true},
		{"processing to paid", PaymentProcessing, PaymentPaid, true},
		{"redirected to failed", PaymentRedirected, PaymentFailed, true},
		{"paid to processing", PaymentPaid, PaymentProcessing, false},
		{"paid to failed", PaymentPaid, PaymentFailed, false},
		{"failed to paid", PaymentFailed, PaymentPaid, false},
		{"failed to processing", PaymentFailed, PaymentProcessing, false},
		{"processing to initiated", PaymentProcessing, PaymentInitiated, false},
		{"processing to processing", PaymentProcessing, PaymentProcessing, false},
		{"unknown status", PaymentStatus("refunded"), PaymentPaid, false},
		{"to unknown status", PaymentInitiated, PaymentStatus("refunded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPaymentStatus_Terminal(t *testing.T) {
	assert.True(t, PaymentPaid.Terminal())
	assert.True(t, PaymentFailed.Terminal())
	assert.False(t, PaymentInitiated.Terminal())
	assert.False(t, PaymentProcessing.Terminal())
	assert.False(t, PaymentRedirected.Terminal())
}

func TestBookingStatusFor(t *testing.T) {
	assert.Equal(t, BookingConfirmed, BookingStatusFor(PaymentPaid))
	assert.Equal(t, BookingCancelled, BookingStatusFor(PaymentFailed))
	assert.Equal(t, BookingPending, BookingStatusFor(PaymentInitiated))
	assert.Equal(t, BookingPending, BookingStatusFor(PaymentProcessing))
	assert.Equal(t, BookingPending, BookingStatusFor(PaymentRedirected))
}

func TestBookingStatus_Terminal(t *testing.T) {
	assert.True(t, BookingCancelled.Terminal())
	assert.True(t, BookingCompleted.Terminal())
	assert.True(t, BookingNoShow.Terminal())
	assert.False(t, BookingPending.Terminal())
	assert.False(t, BookingConfirmed.Terminal())
}
