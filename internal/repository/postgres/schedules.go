package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduleRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ScheduleRepo) With(db DB) *ScheduleRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ScheduleRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *ScheduleRepo) CreateSchedule(
	ctx context.Context,
	route string,
	departs time.Time,
	capacity int,
	fareCents int,
) (int64, error) {
	const op = "postgres.ScheduleRepo.CreateSchedule"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO schedules(route, departs_at, capacity, fare_cents)
	     VALUES ($1, $2, $3, $4)
	     RETURNING id`,
		route, departs, capacity, fareCents,
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

// InitScheduleSeats seeds one available seat row per seat number, 1..capacity.
func (r *ScheduleRepo) InitScheduleSeats(
	ctx context.Context,
	scheduleID int64,
	capacity int,
) (int64, error) {
	const op = "postgres.ScheduleRepo.InitScheduleSeats"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`INSERT INTO schedule_seats(schedule_id, seat_no, status)
	     SELECT $1, gs, 'available'
	     FROM generate_series(1, $2::int) AS gs
	     ON CONFLICT DO NOTHING`,
		scheduleID, capacity,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}
