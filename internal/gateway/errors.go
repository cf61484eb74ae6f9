package gateway

import "fmt"

// TransientError marks a verification attempt that may succeed later:
// network failure, timeout, or a non-2xx gateway response. Callers log it
// and retry on the next reconciliation cycle.
type TransientError struct {
	TxRef string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient gateway error verifying %s: %v", e.TxRef, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }
