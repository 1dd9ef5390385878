// Package storage opens the persistence backend selected by STORE_DRIVER.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/config"
	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/sqlstore"
	"tg_utm_tracker/internal/store"
)

// Backend is what the commands need from either store implementation.
type Backend interface {
	Repositories() domain.Repositories
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (map[string]int64, error)
	DeleteCampaign(ctx context.Context, campaignID string) error
	Close(ctx context.Context) error
}

var (
	openMongo = func(ctx context.Context, cfg config.Config) (mongoBackend, error) {
		return store.NewManager(ctx, cfg)
	}
	openSQL = func(cfg config.Config) (sqlBackend, error) {
		return sqlstore.Open(cfg.StoreDriver, cfg.DatabaseURL)
	}
)

type mongoBackend interface {
	Backend
	EnsureIndexes(ctx context.Context) error
}

type sqlBackend interface {
	Backend
	Migrate(ctx context.Context) error
}

// Open connects to the configured backend and prepares its schema: indexes
// for Mongo, migrations for SQL drivers.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Entry) (Backend, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	switch cfg.StoreDriver {
	case config.DriverMongo, "":
		manager, err := openMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logging.Fields{"event": "mongo_connect", "mongo_db": cfg.MongoDB}).Info("connected to mongo")

		if err := manager.EnsureIndexes(ctx); err != nil {
			_ = manager.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		logger.WithField("event", "mongo_indexes").Info("ensured mongo indexes")

		return manager, nil

	case config.DriverSQLite, config.DriverPostgres:
		db, err := openSQL(cfg)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logging.Fields{"event": "sql_connect", "driver": cfg.StoreDriver}).Info("connected to sql database")

		if err := db.Migrate(ctx); err != nil {
			_ = db.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.WithField("event", "sql_migrate").Info("applied sql migrations")

		return db, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
