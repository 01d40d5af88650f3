package db

import (
	"fmt"
	"time"

	"github.com/secureflow/backend/internal/config"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the PostgreSQL connection described by cfg.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	level := gormlogger.Error
	if logger.ParseLevel(cfg.Log.Level) == logrus.DebugLevel {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("Database connected successfully", map[string]interface{}{
		"driver": config.DriverPostgres,
	})
	return db, nil
}

// OpenStore opens the backend selected by cfg.Store.Driver. Postgres tables
// are migrated on open.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := Connect(cfg)
		if err != nil {
			return nil, err
		}
		st := store.NewGormStore(db)
		if err := st.AutoMigrate(); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database migrated successfully", nil)
		return st, nil

	case config.DriverBadger:
		bcfg := store.DefaultBadgerConfig(cfg.Store.Badger.Path)
		bcfg.InMemory = cfg.Store.Badger.InMemory
		bcfg.SyncWrites = cfg.Store.Badger.SyncWrites
		bcfg.GCInterval = cfg.Store.Badger.GCInterval
		bcfg.Logger = logger.WithComponent("badger")

		st, err := store.OpenBadger(bcfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Badger store opened", map[string]interface{}{
			"path":      bcfg.Path,
			"in_memory": bcfg.InMemory,
		})
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
