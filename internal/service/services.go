package service

import (
	"log/slog"

	redisx "github.com/bustix/bustix/internal/redis"
	postgres "github.com/bustix/bustix/internal/repository/postgres"
	redisrepo "github.com/bustix/bustix/internal/repository/redis"
	"github.com/bustix/bustix/internal/service/admin"
	"github.com/bustix/bustix/internal/service/inventory"
	"github.com/bustix/bustix/internal/service/ledger"
	"github.com/bustix/bustix/internal/service/query"
	"github.com/bustix/bustix/internal/uow"
)

type Services struct {
	Inventory *inventory.Service
	Ledger    *ledger.Service
	Query     *query.Service
	Admin     *admin.Service
}

type Config struct {
	Inventory inventory.Config
	Ledger    ledger.Config
	Query     query.Config
}

func NewServices(
	store *postgres.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.SchedulesPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Services {
	inv := inventory.New(store.Inventory(), cache, pubsub, cfg.Inventory)

	return &Services{
		Inventory: inv,
		Ledger:    ledger.New(store.Bookings(), inv, limiter, logger, cfg.Ledger),
		Query:     query.New(store.Query(), cache, cfg.Query),
		Admin:     admin.New(uow.NewUoW(store), store, cache, pubsub, logger),
	}
}
