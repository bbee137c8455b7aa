package memory

import (
	"context"
	"sync"
	"time"
)

// windowEntry is the count for one key in its current fixed window. The
// window ends at expiresAt, after which the key starts again from zero.
type windowEntry struct {
	count     int64
	expiresAt time.Time
}

// WindowCounter counts events per key in fixed time windows. The rate
// limiter uses it to cap ingest calls per user.
//
// It only works for a single-instance deployment; with several instances
// the Redis-backed counter is used instead, which is INCR + EXPIRE on a
// shared key.
//
// Go Learning Note — Channels for Signaling:
// The `stop` field is a `chan struct{}` used purely for signaling.
// close(stop) makes every receive on it return immediately, which is how
// Stop() tells the background sweeper to exit.
type WindowCounter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewWindowCounter creates a WindowCounter and starts a background goroutine
// that drops keys whose window has ended.
//
// Go Learning Note — Background Goroutines:
// Always provide a way to stop background goroutines to prevent goroutine
// leaks in tests; here that is Stop().
func NewWindowCounter(sweepEvery time.Duration) *WindowCounter {
	wc := &WindowCounter{
		entries: make(map[string]*windowEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go wc.sweepExpired(sweepEvery)
	return wc
}

// Incr adds one event for key and returns the count in the current window
// together with the time left until the window resets.
func (wc *WindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	now := wc.now()
	entry, exists := wc.entries[key]
	if !exists || !now.Before(entry.expiresAt) {
		entry = &windowEntry{expiresAt: now.Add(window)}
		wc.entries[key] = entry
	}
	entry.count++
	return entry.count, entry.expiresAt.Sub(now), nil
}

// Len returns the number of keys currently tracked.
func (wc *WindowCounter) Len() int {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return len(wc.entries)
}

// sweepExpired periodically removes keys whose window has ended.
//
// Go Learning Note — select Statement:
// select blocks until one of the cases can proceed. Here it waits for either
// the ticker (do cleanup) or the stop signal (exit), the idiomatic pattern
// for a cancellable periodic task.
func (wc *WindowCounter) sweepExpired(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wc.mu.Lock()
			now := wc.now()
			for key, entry := range wc.entries {
				if !now.Before(entry.expiresAt) {
					delete(wc.entries, key)
				}
			}
			wc.mu.Unlock()
		case <-wc.stop:
			return
		}
	}
}

// Stop signals the background sweeper to exit. Safe to call more than once.
func (wc *WindowCounter) Stop() {
	wc.once.Do(func() { close(wc.stop) })
}
