// Package reconciler runs the periodic payment reconciliation cycle: it
// verifies stale in-flight payments against the gateway, resolves them, and
// reclaims seats from expired holds.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/gateway"
)

// Ledger is the slice of the booking ledger the reconciler drives.
type Ledger interface {
	ListStaleInFlight(ctx context.Context, olderThan time.Duration, now time.Time) ([]domain.Booking, error)
	ResolvePayment(ctx context.Context, bookingID uuid.UUID, verified domain.PaymentStatus, txRef string) error
	MarkHoldsExpired(ctx context.Context, ids []uuid.UUID) error
}

// Inventory reclaims seats from timed-out holds.
type Inventory interface {
	SweepExpiredHolds(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// Verifier asks the payment provider what happened to a transaction.
type Verifier interface {
	Verify(ctx context.Context, txRef string) (gateway.Result, error)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type Reconciler struct {
	ledger   Ledger
	inv      Inventory
	verifier Verifier
	logger   *slog.Logger
	cfg      Config
}

func New(ledger Ledger, inv Inventory, verifier Verifier, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		ledger:   ledger,
		inv:      inv,
		verifier: verifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run executes reconciliation cycles until ctx is cancelled. A failed cycle
// is logged and retried on the next tick; every step is idempotent, so a
// crash mid-cycle is safe.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval.String(),
		"stale_after", r.cfg.StaleAfter.String(),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunCycle(ctx, time.Now()); err != nil {
				r.logger.Error("reconciliation cycle failed", "error", err)
			}
		}
	}
}

// RunCycle performs one reconciliation pass. No individual booking failure
// aborts the batch; bookings whose verification fails transiently keep their
// paymentInitiatedAt and are retried on the next cycle.
func (r *Reconciler) RunCycle(ctx context.Context, now time.Time) error {
	stale, err := r.ledger.ListStaleInFlight(ctx, r.cfg.StaleAfter, now)
	if err != nil {
		return err
	}

	var resolved, skipped int
	for i := range stale {
		b := &stale[i]

		if b.TxRef == "" {
			// never left initiated on the provider side; the hold sweep
			// below is what fails these
			skipped++
			continue
		}

		res, err := r.verifier.Verify(ctx, b.TxRef)
		if err != nil {
			var transient *gateway.TransientError
			if errors.As(err, &transient) {
				r.logger.Warn("verification failed, will retry next cycle",
					"booking_id", b.ID.String(),
					"tx_ref", b.TxRef,
					"error", err,
				)
				skipped++
				continue
			}
			r.logger.Error("verification error",
				"booking_id", b.ID.String(),
				"tx_ref", b.TxRef,
				"error", err,
			)
			skipped++
			continue
		}

		if res.Pending() {
			skipped++
			continue
		}

		txRef := b.TxRef
		if res.TransactionID != "" {
			txRef = res.TransactionID
		}

		if err := r.ledger.ResolvePayment(ctx, b.ID, res.Status, txRef); err != nil {
			r.logger.Error("resolution failed",
				"booking_id", b.ID.String(),
				"verified", string(res.Status),
				"error", err,
			)
			skipped++
			continue
		}

		resolved++
	}

	swept, err := r.inv.SweepExpiredHolds(ctx, now)
	if err != nil {
		return err
	}

	if err := r.ledger.MarkHoldsExpired(ctx, swept); err != nil {
		return err
	}

	r.logger.Info("reconciliation cycle complete",
		"stale", len(stale),
		"resolved", resolved,
		"skipped", skipped,
		"holds_swept", len(swept),
	)

	return nil
}
