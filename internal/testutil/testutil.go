// Package testutil provides databases and catalog fixtures for tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"trekkr/internal/logger"
	"trekkr/internal/repository/gormrepo"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// SQLiteDB opens a fresh, migrated SQLite database in a temp dir. Writers
// take the lock at BEGIN so concurrent transactions queue instead of
// failing with SQLITE_BUSY.
func SQLiteDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	return openSQLite(tb, "immediate")
}

// SQLiteDBDeferred is SQLiteDB with deferred transactions. BEGIN takes no
// lock, so concurrent transactions really overlap: a statement that writes
// first waits out the busy timeout, while a transaction that read before
// writing gets SQLITE_BUSY once another writer holds the lock.
func SQLiteDBDeferred(tb testing.TB) *gorm.DB {
	tb.Helper()
	return openSQLite(tb, "deferred")
}

func openSQLite(tb testing.TB, txlock string) *gorm.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "trekkr.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=%s&_foreign_keys=1", path, txlock)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := gormrepo.AutoMigrate(db); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// PostgresDB returns a shared, migrated PostgreSQL connection, or skips the
// test when TEST_POSTGRES_DSN is not set. Use Tx to isolate writes.
func PostgresDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		pgDB, pgErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			TranslateError:                           true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if pgErr != nil {
			return
		}
		pgErr = gormrepo.AutoMigrate(pgDB)
	})

	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init test db: %v", pgErr)
	}
	return pgDB
}

// Tx begins a transaction that is rolled back when the test ends.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
