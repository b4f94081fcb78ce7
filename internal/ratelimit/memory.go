package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps timestamps in process memory. It is only correct for a
// single long-lived worker; use RedisLimiter when several instances share keys.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	hits   map[string][]time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// WithClock replaces the time source. Tests only.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Timestamps are appended in order, so the live ones are a suffix.
	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= limit {
		l.store(key, hits)
		return false, nil
	}

	l.store(key, append(hits, now))
	return true, nil
}

func (l *MemoryLimiter) store(key string, hits []time.Time) {
	if len(hits) == 0 {
		delete(l.hits, key)
		return
	}
	l.hits[key] = hits
}
