// Package gormrepo implements the repository contracts on gorm, against
// PostgreSQL in production and SQLite for tests and single-node setups.
//
// Every write that can race between requests is a single conditional
// statement (INSERT ... ON CONFLICT), so correctness never depends on a
// read-then-write sequence.
package gormrepo

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"trekkr/internal/config"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
)

// Models lists every table owned by this service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&entities.Country{},
		&entities.Region{},
		&entities.SpatialCell{},
		&entities.Device{},
		&entities.UserCellVisit{},
		&entities.IngestBatch{},
		&entities.Achievement{},
		&entities.UserAchievement{},
	}
}

// gormWriter routes gorm's own log lines (slow queries, errors) through zap.
type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.SugaredLogger.Warnf(format, args...)
}

// NewGormLogger returns a gorm logger that only reports warnings, errors and
// queries slower than one second.
func NewGormLogger(log *logger.Logger) gormLogger.Interface {
	return gormLogger.New(gormWriter{log: log.With("component", "gorm")}, gormLogger.Config{
		SlowThreshold:             1 * time.Second,
		LogLevel:                  gormLogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open connects to the configured database and tunes the pool.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   NewGormLogger(log),
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log.Info("database connected", "driver", cfg.Driver)
	return db, nil
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// conn picks the caller's transaction when there is one.
func conn(tx, db *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
