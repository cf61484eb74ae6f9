package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO bookings(
	        id, schedule_id, seats, passenger_name, passenger_phone,
	        payment_status, booking_status, payment_initiated_at,
	        committed, total_cents, created_at)
	     VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.ScheduleID, b.Seats, b.Passenger.Name, b.Passenger.Phone,
		string(b.PaymentStatus), string(b.BookingStatus), b.PaymentInitiatedAt,
		b.Committed, b.TotalCents, b.CreatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	db := r.handle()

	var b domain.Booking
	var txRef *string
	err := db.QueryRow(ctx,
		`SELECT id, schedule_id, seats, passenger_name, passenger_phone,
	            tx_ref, payment_status, booking_status, payment_initiated_at,
	            committed, total_cents, created_at
	     FROM bookings WHERE id = $1`,
		id,
	).Scan(
		&b.ID, &b.ScheduleID, &b.Seats, &b.Passenger.Name, &b.Passenger.Phone,
		&txRef, &b.PaymentStatus, &b.BookingStatus, &b.PaymentInitiatedAt,
		&b.Committed, &b.TotalCents, &b.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if txRef != nil {
		b.TxRef = *txRef
	}

	return &b, nil
}

// RecordObservation persists a mid-flight payment status. The WHERE clause
// refuses to touch a terminal row, so a late observation can never regress a
// resolved payment.
//
// Returns:
//   - error: repository.ErrConflict if the payment is already terminal.
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) RecordObservation(
	ctx context.Context,
	id uuid.UUID,
	status domain.PaymentStatus,
	txRef string,
) error {
	const op = "postgres.BookingRepo.RecordObservation"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings
	        SET payment_status = $2,
	            tx_ref = CASE WHEN $3 <> '' THEN $3 ELSE tx_ref END
	      WHERE id = $1
	        AND payment_status NOT IN ('paid', 'failed')`,
		id, string(status), txRef,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	return nil
}

// MarkResolved writes the terminal payment outcome and the booking status it
// implies. Terminal booking rows are never rewritten, and a terminal payment
// status can only be restated, never replaced by the opposite outcome.
func (r *BookingRepo) MarkResolved(
	ctx context.Context,
	id uuid.UUID,
	payment domain.PaymentStatus,
	booking domain.BookingStatus,
	txRef string,
) error {
	const op = "postgres.BookingRepo.MarkResolved"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings
	        SET payment_status = $2,
	            booking_status = $3,
	            tx_ref = CASE WHEN $4 <> '' THEN $4 ELSE tx_ref END
	      WHERE id = $1
	        AND booking_status NOT IN ('cancelled', 'completed', 'no_show')
	        AND (payment_status NOT IN ('paid', 'failed') OR payment_status = $2)`,
		id, string(payment), string(booking), txRef,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	return nil
}

func (r *BookingRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.MarkCancelled"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings
	        SET booking_status = 'cancelled'
	      WHERE id = $1
	        AND booking_status IN ('pending', 'confirmed')`,
		id,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	return nil
}

// ListStaleInFlight returns pending bookings whose payment entered a
// mid-flight state before the cutoff and never resolved.
func (r *BookingRepo) ListStaleInFlight(ctx context.Context, cutoff time.Time) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListStaleInFlight"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, schedule_id, seats, passenger_name, passenger_phone,
	            tx_ref, payment_status, booking_status, payment_initiated_at,
	            committed, total_cents, created_at
	     FROM bookings
	     WHERE payment_status IN ('processing', 'redirected')
	       AND booking_status = 'pending'
	       AND payment_initiated_at < $1
	     ORDER BY payment_initiated_at`,
		cutoff,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var txRef *string
		if err := rows.Scan(
			&b.ID, &b.ScheduleID, &b.Seats, &b.Passenger.Name, &b.Passenger.Phone,
			&txRef, &b.PaymentStatus, &b.BookingStatus, &b.PaymentInitiatedAt,
			&b.Committed, &b.TotalCents, &b.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		if txRef != nil {
			b.TxRef = *txRef
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// MarkHoldsExpired fails the bookings whose holds were swept. Bookings that
// already resolved or cancelled are left alone.
func (r *BookingRepo) MarkHoldsExpired(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const op = "postgres.BookingRepo.MarkHoldsExpired"

	if len(ids) == 0 {
		return 0, nil
	}

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings
	        SET payment_status = 'failed', booking_status = 'cancelled'
	      WHERE id = ANY($1)
	        AND booking_status = 'pending'
	        AND payment_status NOT IN ('paid', 'failed')`,
		ids,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}
