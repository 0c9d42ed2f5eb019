package ratelimit

import (
	"context"
	"sync"
	"time"
)

type record struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// MemoryLimiter is a per-process fixed-window counter. Records idle for
// longer than the idle timeout are purged in the background.
type MemoryLimiter struct {
	max    int
	window time.Duration
	idle   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*record

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter admits max hits per window per key. A purgeInterval of
// zero disables the background sweep.
func NewMemoryLimiter(max int, window, idle, purgeInterval time.Duration) *MemoryLimiter {
	return newMemoryLimiter(max, window, idle, purgeInterval, time.Now)
}

func newMemoryLimiter(max int, window, idle, purgeInterval time.Duration, now func() time.Time) *MemoryLimiter {
	if idle <= 0 {
		idle = window
	}
	l := &MemoryLimiter{
		max:     max,
		window:  window,
		idle:    idle,
		now:     now,
		records: make(map[string]*record),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if purgeInterval > 0 {
		go l.purgeLoop(purgeInterval)
	} else {
		close(l.done)
	}
	return l
}

// Allow never blocks on I/O and never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[key]
	if !ok || now.Sub(r.windowStart) > l.window {
		l.records[key] = &record{windowStart: now, count: 1, lastSeen: now}
		return l.max > 0, nil
	}

	r.count++
	r.lastSeen = now
	return r.count <= l.max, nil
}

// Len reports how many keys are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *MemoryLimiter) purge() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, r := range l.records {
		if now.Sub(r.lastSeen) > l.idle {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) purgeLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.purge()
		}
	}
}

// Close stops the purge loop.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}
