// Package admin publishes schedules: the schedule row and its per-seat
// inventory rows are created in one transaction, and cached reads are
// invalidated only after that transaction commits.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bustix/bustix/internal/domain"
	postgres "github.com/bustix/bustix/internal/repository/postgres"
	"github.com/bustix/bustix/internal/uow"
)

// SummaryCache invalidates cached schedule reads.
type SummaryCache interface {
	InvalidateSchedule(ctx context.Context, scheduleID int64) error
}

// ChangeNotifier broadcasts that a schedule appeared or changed.
type ChangeNotifier interface {
	PublishScheduleChanged(ctx context.Context, scheduleID int64) error
}

type Service struct {
	uow      *uow.UoW
	store    *postgres.Store
	cache    SummaryCache
	notifier ChangeNotifier
	logger   *slog.Logger
}

func New(
	u *uow.UoW,
	store *postgres.Store,
	cache SummaryCache,
	notifier ChangeNotifier,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		uow:      u,
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateSchedule inserts the schedule and seeds one available seat row per
// seat number, atomically. Cache invalidation and the change broadcast run
// as after-commit hooks so readers never see a schedule without its seats.
func (s *Service) CreateSchedule(
	ctx context.Context,
	route string,
	departs time.Time,
	capacity int,
	fareCents int,
) (*domain.Schedule, error) {
	const op = "service.admin.CreateSchedule"

	route = strings.TrimSpace(route)
	if route == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrEmptyRoute)
	}

	if capacity <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidCapacity)
	}

	if fareCents <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidFare)
	}

	if departs.Before(time.Now()) {
		return nil, fmt.Errorf("%s:%w", op, ErrDepartsInPast)
	}

	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgres.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.Schedules().With(tx).CreateSchedule(ctx, route, departs, capacity, fareCents)
		if err != nil {
			return err
		}

		if _, err := s.store.Schedules().With(tx).InitScheduleSeats(ctx, id, capacity); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateSchedule(ctx, id)
			}
			if s.notifier != nil {
				_ = s.notifier.PublishScheduleChanged(ctx, id)
			}
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("schedule published",
		"schedule_id", id,
		"route", route,
		"capacity", capacity,
	)

	return &domain.Schedule{
		ID:        id,
		Route:     route,
		Departs:   departs,
		Capacity:  capacity,
		FareCents: fareCents,
	}, nil
}
