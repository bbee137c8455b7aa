package testutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
)

var userSeq atomic.Int64

// UniqueUserID returns a user id no other test run has used, for tests that
// write to a shared database without a wrapping transaction.
func UniqueUserID() int64 {
	return time.Now().UnixNano()/1000 + userSeq.Add(1)
}

// CleanupUser deletes every row owned by userID when the test ends.
func CleanupUser(tb testing.TB, db *gorm.DB, userID int64) {
	tb.Helper()
	tb.Cleanup(func() {
		for _, model := range []interface{}{
			&entities.UserAchievement{},
			&entities.UserCellVisit{},
			&entities.IngestBatch{},
			&entities.Device{},
		} {
			if err := db.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				tb.Errorf("cleanup user %d: %v", userID, err)
			}
		}
	})
}

// ConcurrentTx begins n transactions on separate connections and waits until
// all of them are open before running fn in each one concurrently. A
// transaction commits when fn returns nil and rolls back otherwise. errs[i]
// is writer i's error.
//
// Go Learning Note — Start Barriers:
// Launching goroutines is not the same as running them together. The
// WaitGroup holds every writer at the gate until all transactions exist, and
// closing the channel releases them at once, so the interesting interleaving
// happens on every run instead of by luck.
func ConcurrentTx(tb testing.TB, db *gorm.DB, n int, fn func(i int, tx *gorm.DB) error) []error {
	tb.Helper()

	var (
		begun sync.WaitGroup
		done  sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	begun.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			tx := db.Begin()
			begun.Done()
			if tx.Error != nil {
				errs[i] = tx.Error
				return
			}
			<-start
			if err := fn(i, tx); err != nil {
				tx.Rollback()
				errs[i] = err
				return
			}
			errs[i] = tx.Commit().Error
		}(i)
	}
	begun.Wait()
	close(start)
	done.Wait()
	return errs
}
