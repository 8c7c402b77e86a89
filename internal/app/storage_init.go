package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderpipe/internal/health"
	"github.com/vladislavdragonenkov/orderpipe/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderpipe/internal/storage/postgres"
)

// storageBackend — хранилище с транзакциями и autocommit-репозиториями.
type storageBackend interface {
	domain.UnitOfWork
	domain.Tx
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ storageBackend = (*memory.Store)(nil)
	_ storageBackend = (*postgres.Store)(nil)
)

type runtimeDependencies struct {
	store          storageBackend
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:          store,
			storageChecker: healthcheck.NewPingChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage driver requires dsn")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		version, applied, err := store.MigrationStatus(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to read migration status")
		} else {
			logger.WithFields(log.Fields{"schema_version": version, "migrations": applied}).Info("using postgres storage")
		}
		if pending, err := store.PendingMigrations(ctx); err == nil && len(pending) > 0 {
			logger.WithField("pending", pending).Warn("postgres schema is behind, run cmd/migrate")
		}
		return &runtimeDependencies{
			store:          store,
			storageChecker: healthcheck.NewPingChecker("postgres", store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
