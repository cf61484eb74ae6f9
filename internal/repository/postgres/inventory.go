package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bustix/bustix/internal/domain"
	"github.com/bustix/bustix/internal/repository"
)

// InventoryRepo is the storage side of the seat inventory coordinator. Every
// mutation is a single serializable transaction, so two concurrent reserves
// for overlapping seats can never both succeed.
type InventoryRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *InventoryRepo) With(db DB) *InventoryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *InventoryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *InventoryRepo) ScheduleCapacity(ctx context.Context, scheduleID int64) (int, error) {
	const op = "postgres.InventoryRepo.ScheduleCapacity"

	db := r.handle()

	var capacity int
	err := db.QueryRow(ctx,
		`SELECT capacity FROM schedules WHERE id = $1`,
		scheduleID,
	).Scan(&capacity)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return capacity, nil
}

// ReserveSeats places a hold on the given seats for a booking.
//
// Returns:
//   - *domain.HoldRecord: the created hold when successful.
//   - error: *repository.SeatConflictError if any seat is not available.
//   - error: repository.ErrConflict if a hold for the booking already exists.
func (r *InventoryRepo) ReserveSeats(
	ctx context.Context,
	scheduleID int64,
	bookingID uuid.UUID,
	seats []int64,
	ttl time.Duration,
) (*domain.HoldRecord, error) {
	const op = "postgres.InventoryRepo.ReserveSeats"

	if r.db != nil {
		hold, err := r.reserveSeatsCore(ctx, r.db, scheduleID, bookingID, seats, ttl)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return hold, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	hold, err := r.reserveSeatsCore(ctx, tx, scheduleID, bookingID, seats, ttl)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return hold, nil
}

// CommitBooking moves a booking's held seats into the booked set and flips
// the committed flag, all in one transaction. A second call reports
// AlreadyCommitted without touching inventory.
//
// Returns:
//   - error: repository.ErrHoldNotFound if no active (unexpired) hold exists.
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *InventoryRepo) CommitBooking(ctx context.Context, bookingID uuid.UUID) (domain.CommitResult, error) {
	const op = "postgres.InventoryRepo.CommitBooking"

	if r.db != nil {
		res, err := r.commitBookingCore(ctx, r.db, bookingID)
		if err != nil {
			return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return res, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	res, err := r.commitBookingCore(ctx, tx, bookingID)
	if err != nil {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

// ReleaseBooking returns a booking's seats to the available pool: a held
// booking loses its hold, a committed booking has its booked seats freed.
// No hold and not committed is a no-op. Returns the affected schedule ID,
// or 0 when nothing changed.
func (r *InventoryRepo) ReleaseBooking(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	const op = "postgres.InventoryRepo.ReleaseBooking"

	if r.db != nil {
		sid, err := r.releaseBookingCore(ctx, r.db, bookingID)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return sid, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	sid, err := r.releaseBookingCore(ctx, tx, bookingID)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return sid, nil
}

// SweepExpiredHolds frees seats from holds whose expiry is at or before now
// and returns the expired holds so the ledger can mark their bookings.
func (r *InventoryRepo) SweepExpiredHolds(ctx context.Context, now time.Time) ([]domain.HoldRecord, error) {
	const op = "postgres.InventoryRepo.SweepExpiredHolds"

	db := r.handle()

	_, err := db.Exec(ctx,
		`UPDATE schedule_seats
	        SET status = 'available', booking_id = NULL, hold_expires_at = NULL
	      WHERE status = 'held' AND hold_expires_at <= $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	rows, err := db.Query(ctx,
		`DELETE FROM holds
	      WHERE expires_at <= $1
	      RETURNING booking_id, schedule_id, created_at, expires_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.HoldRecord
	for rows.Next() {
		var h domain.HoldRecord
		if err := rows.Scan(&h.BookingID, &h.ScheduleID, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *InventoryRepo) reserveSeatsCore(
	ctx context.Context,
	db DB,
	scheduleID int64,
	bookingID uuid.UUID,
	seats []int64,
	ttl time.Duration,
) (*domain.HoldRecord, error) {
	const op = "postgres.InventoryRepo.reserveSeatsCore"

	created := time.Now()
	expires := created.Add(ttl)

	// Free expired seats on the way in, but leave the expired rows in holds:
	// only SweepExpiredHolds removes them, so every expired booking is
	// reported to the ledger exactly once.
	if _, err := db.Exec(ctx,
		`UPDATE schedule_seats
	        SET status = 'available', booking_id = NULL, hold_expires_at = NULL
	      WHERE schedule_id = $1
	        AND status = 'held'
	        AND hold_expires_at <= now()`,
		scheduleID,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO holds(booking_id, schedule_id, created_at, expires_at)
	     VALUES ($1, $2, $3, $4)`,
		bookingID, scheduleID, created, expires,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	tag, err := db.Exec(ctx,
		`UPDATE schedule_seats
	        SET status = 'held', booking_id = $3, hold_expires_at = $4
	      WHERE schedule_id = $1
	        AND seat_no = ANY($2)
	        AND status = 'available'`,
		scheduleID, seats, bookingID, expires,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if int(tag.RowsAffected()) != len(seats) {
		conflicting, cErr := r.conflictingSeats(ctx, db, scheduleID, seats)
		if cErr != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(cErr))
		}
		if len(conflicting) == 0 {
			conflicting = seats
		}
		return nil, fmt.Errorf("%s:%w", op, &repository.SeatConflictError{
			ScheduleID:       scheduleID,
			ConflictingSeats: conflicting,
		})
	}

	return &domain.HoldRecord{
		BookingID:  bookingID,
		ScheduleID: scheduleID,
		Seats:      seats,
		CreatedAt:  created,
		ExpiresAt:  expires,
	}, nil
}

func (r *InventoryRepo) conflictingSeats(
	ctx context.Context,
	db DB,
	scheduleID int64,
	seats []int64,
) ([]int64, error) {
	rows, err := db.Query(ctx,
		`SELECT seat_no FROM schedule_seats
	      WHERE schedule_id = $1
	        AND seat_no = ANY($2)
	        AND status <> 'available'
	      ORDER BY seat_no`,
		scheduleID, seats,
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	return out, rows.Err()
}

func (r *InventoryRepo) commitBookingCore(
	ctx context.Context,
	db DB,
	bookingID uuid.UUID,
) (domain.CommitResult, error) {
	const op = "postgres.InventoryRepo.commitBookingCore"

	var scheduleID int64
	var committed bool

	if err := db.QueryRow(ctx,
		`SELECT schedule_id, committed FROM bookings WHERE id = $1`,
		bookingID,
	).Scan(&scheduleID, &committed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CommitResult{}, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if committed {
		return domain.CommitResult{AlreadyCommitted: true, ScheduleID: scheduleID}, nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE schedule_seats
	        SET status = 'booked', hold_expires_at = NULL
	      WHERE booking_id = $1
	        AND status = 'held'
	        AND hold_expires_at > now()`,
		bookingID,
	)
	if err != nil {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, repository.ErrHoldNotFound)
	}

	if _, err := db.Exec(ctx,
		`DELETE FROM holds WHERE booking_id = $1`, bookingID,
	); err != nil {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx,
		`UPDATE bookings
	        SET committed = true, payment_status = 'paid'
	      WHERE id = $1 AND committed = false`,
		bookingID,
	); err != nil {
		return domain.CommitResult{}, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return domain.CommitResult{AlreadyCommitted: false, ScheduleID: scheduleID}, nil
}

func (r *InventoryRepo) releaseBookingCore(
	ctx context.Context,
	db DB,
	bookingID uuid.UUID,
) (int64, error) {
	const op = "postgres.InventoryRepo.releaseBookingCore"

	var scheduleID int64
	var committed bool

	err := db.QueryRow(ctx,
		`SELECT schedule_id, committed FROM bookings WHERE id = $1`,
		bookingID,
	).Scan(&scheduleID, &committed)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if committed {
		// Cancellation after confirmation: inverse of commit.
		tag, err := db.Exec(ctx,
			`UPDATE schedule_seats
		        SET status = 'available', booking_id = NULL
		      WHERE booking_id = $1 AND status = 'booked'`,
			bookingID,
		)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		if tag.RowsAffected() == 0 {
			return 0, nil
		}
		return scheduleID, nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE schedule_seats
	        SET status = 'available', booking_id = NULL, hold_expires_at = NULL
	      WHERE booking_id = $1 AND status = 'held'`,
		bookingID,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	// A hold can exist without a booking row (a failed create compensates
	// by releasing), so take the schedule from the hold itself.
	var holdScheduleID int64
	holdErr := db.QueryRow(ctx,
		`DELETE FROM holds WHERE booking_id = $1 RETURNING schedule_id`,
		bookingID,
	).Scan(&holdScheduleID)
	if holdErr != nil && !errors.Is(holdErr, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(holdErr))
	}

	if tag.RowsAffected() == 0 && errors.Is(holdErr, pgx.ErrNoRows) {
		return 0, nil
	}

	if holdScheduleID != 0 {
		return holdScheduleID, nil
	}

	return scheduleID, nil
}
