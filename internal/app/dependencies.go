package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
	"github.com/vladislavdragonenkov/pos/internal/storage/redisstore"
)

// runtimeDependencies — хранилища, выбранные конфигурацией, и их проверки здоровья.
type runtimeDependencies struct {
	orders      domain.OrderStore
	catalog     domain.ProductCatalog
	cashiers    domain.CashierDirectory
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			_ = deps.Close()
			deps = nil
		}
	}()

	var store *postgres.Store
	if cfg.usesPostgres() {
		store, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Ping)
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		deps.orders = postgres.NewOrderStore(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		deps.timeline = postgres.NewTimelineRepository(store)
		deps.idempotency = postgres.NewIdempotencyRepository(store)
	default:
		deps.orders = memory.NewOrderStore()
		deps.outbox = memory.NewOutboxRepository()
		deps.timeline = memory.NewTimelineRepository()
		deps.idempotency = memory.NewIdempotencyRepository()
	}

	switch cfg.CatalogDriver {
	case CatalogDriverPostgres:
		deps.catalog = postgres.NewProductCatalog(store)
	case CatalogDriverRedis:
		catalog, closeFn, err := openRedisCatalog(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps.catalog = catalog
		deps.closers = append(deps.closers, closeFn)
		deps.checkers["redis"] = healthcheck.NewSimpleChecker("redis", catalog.Ping)
	default:
		deps.catalog = memory.NewProductCatalog()
	}

	if store != nil {
		deps.cashiers = postgres.NewCashierDirectory(store)
	} else {
		deps.cashiers = memory.NewCashierDirectory()
	}

	if cfg.CatalogSeedPath != "" {
		seed, err := loadSeedFile(cfg.CatalogSeedPath)
		if err != nil {
			return nil, err
		}
		if err := seed.apply(ctx, deps.catalog, deps.cashiers); err != nil {
			return nil, err
		}
		logger.WithFields(log.Fields{
			"products": len(seed.Products),
			"cashiers": len(seed.Cashiers),
		}).Info("catalog seeded")
	}

	logger.WithFields(log.Fields{
		"storage": cfg.StorageDriver,
		"catalog": cfg.CatalogDriver,
	}).Info("storage initialized")
	return deps, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN,
		postgres.WithLogger(logger.WithField("component", "postgres")),
		postgres.WithMaxOpenConns(cfg.PostgresMaxOpenConns),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return store, nil
}

func openRedisCatalog(ctx context.Context, cfg Config, logger *log.Entry) (*redisstore.ProductCatalog, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	catalog := redisstore.NewProductCatalog(client, redisstore.WithKeyPrefix(cfg.RedisKeyPrefix))
	if err := catalog.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.WithField("addr", cfg.RedisAddr).Info("redis catalog connected")
	return catalog, client.Close, nil
}
