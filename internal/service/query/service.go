// Package query serves the read side: schedule summaries, seat availability
// counters and seat maps, fronted by the Redis cache. It never mutates
// inventory or booking state.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bustix/bustix/internal/domain"
	redisx "github.com/bustix/bustix/internal/redis"
	"github.com/bustix/bustix/internal/repository"
	redisrepo "github.com/bustix/bustix/internal/repository/redis"
)

// Store is the read-side persistence contract.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error)
	CountsByStatus(ctx context.Context, scheduleID int64) (*domain.ScheduleCounts, error)
	ListScheduleSeats(ctx context.Context, scheduleID int64, onlyAvailable bool, limit, offset int) ([]domain.SeatWithStatus, error)
}

type Config struct {
	SummaryTTL      time.Duration
	AvailabilityTTL time.Duration
	SeatMapTTL      time.Duration
}

type Service struct {
	store Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = 5 * time.Minute
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if cfg.SeatMapTTL <= 0 {
		cfg.SeatMapTTL = 15 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

func (s *Service) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	const op = "service.query.GetSchedule"

	load := func(ctx context.Context) (*domain.Schedule, error) {
		return s.store.GetSchedule(ctx, id)
	}

	var sched *domain.Schedule
	var err error
	if s.cache != nil {
		sched, err = redisrepo.GetOrSetJSON(
			ctx, s.cache, redisx.KeyScheduleSummary(id), s.cfg.SummaryTTL, load,
		)
	} else {
		sched, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return sched, nil
}

// Availability returns seat counters for a schedule. The counters come from
// the seat table, cached briefly; a stale read here is acceptable because
// reserve re-checks under its own transaction.
func (s *Service) Availability(ctx context.Context, scheduleID int64) (*domain.ScheduleCounts, error) {
	const op = "service.query.Availability"

	load := func(ctx context.Context) (*domain.ScheduleCounts, error) {
		return s.store.CountsByStatus(ctx, scheduleID)
	}

	var counts *domain.ScheduleCounts
	var err error
	if s.cache != nil {
		counts, err = redisrepo.GetOrSetJSON(
			ctx, s.cache, redisx.KeyScheduleAvailability(scheduleID), s.cfg.AvailabilityTTL, load,
		)
	} else {
		counts, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return counts, nil
}

// SeatMap lists seats with their current status. The full (unfiltered,
// unpaginated-from-zero) map is cached; filtered or offset pages go straight
// to the store.
func (s *Service) SeatMap(
	ctx context.Context,
	scheduleID int64,
	onlyAvailable bool,
	limit, offset int,
) ([]domain.SeatWithStatus, error) {
	const op = "service.query.SeatMap"

	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	load := func(ctx context.Context) ([]domain.SeatWithStatus, error) {
		return s.store.ListScheduleSeats(ctx, scheduleID, onlyAvailable, limit, offset)
	}

	var seats []domain.SeatWithStatus
	var err error
	if s.cache != nil && !onlyAvailable && offset == 0 && limit == 500 {
		seats, err = redisrepo.GetOrSetJSON(
			ctx, s.cache, redisx.KeyScheduleSeatMap(scheduleID), s.cfg.SeatMapTTL, load,
		)
	} else {
		seats, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return seats, nil
}
