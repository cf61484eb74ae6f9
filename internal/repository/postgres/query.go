package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bustix/bustix/internal/domain"
)

type QueryRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *QueryRepo) With(db DB) *QueryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *QueryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetSchedule retrieves a schedule by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the schedule is not found.
func (r *QueryRepo) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	const op = "postgres.QueryRepo.GetSchedule"

	db := r.handle()

	var s domain.Schedule
	err := db.QueryRow(ctx,
		`SELECT id, route, departs_at, capacity, fare_cents
	     FROM schedules WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Route, &s.Departs, &s.Capacity, &s.FareCents)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &s, nil
}

// CountsByStatus counts seats by status for a schedule. Available seats for
// the browsing UI derive from these counters, never from direct writes.
func (r *QueryRepo) CountsByStatus(ctx context.Context, scheduleID int64) (*domain.ScheduleCounts, error) {
	const op = "postgres.QueryRepo.CountsByStatus"

	db := r.handle()

	var sc domain.ScheduleCounts
	err := db.QueryRow(ctx,
		`SELECT
	        COALESCE(SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END), 0),
	        COALESCE(SUM(CASE WHEN status = 'held' THEN 1 ELSE 0 END), 0),
	        COALESCE(SUM(CASE WHEN status = 'booked' THEN 1 ELSE 0 END), 0)
	     FROM schedule_seats
	     WHERE schedule_id = $1`,
		scheduleID,
	).Scan(&sc.Available, &sc.Held, &sc.Booked)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	sc.Total = sc.Available + sc.Held + sc.Booked

	return &sc, nil
}

// ListScheduleSeats lists seats for a schedule with optional availability
// filtering and pagination.
func (r *QueryRepo) ListScheduleSeats(
	ctx context.Context,
	scheduleID int64,
	onlyAvailable bool,
	limit, offset int,
) ([]domain.SeatWithStatus, error) {
	const op = "postgres.QueryRepo.ListScheduleSeats"

	db := r.handle()

	var rows pgx.Rows
	var err error

	if onlyAvailable {
		rows, err = db.Query(ctx,
			`SELECT schedule_id, seat_no, status
	         FROM schedule_seats
	         WHERE schedule_id = $1 AND status = 'available'
	         ORDER BY seat_no
	         LIMIT $2 OFFSET $3`,
			scheduleID, limit, offset,
		)
	} else {
		rows, err = db.Query(ctx,
			`SELECT schedule_id, seat_no, status
	         FROM schedule_seats
	         WHERE schedule_id = $1
	         ORDER BY seat_no
	         LIMIT $2 OFFSET $3`,
			scheduleID, limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.SeatWithStatus
	for rows.Next() {
		var sws domain.SeatWithStatus
		var status string

		if err := rows.Scan(&sws.ScheduleID, &sws.SeatNo, &status); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		sws.Status = domain.SeatStatus(status)
		out = append(out, sws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
