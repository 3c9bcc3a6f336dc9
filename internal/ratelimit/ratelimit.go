// Package ratelimit throttles validation attempts per identifier with a
// sliding time window. The in-memory limiter covers a single process; the
// Redis-backed limiter shares the window across service instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults match the production attempt budget: 10 validation attempts per
// identifier per hour.
const (
	DefaultMaxAttempts = 10
	DefaultWindow      = time.Hour
)

// Limiter gates redemption attempts per caller identifier.
type Limiter interface {
	// Allow records an attempt and reports whether it is within budget.
	Allow(ctx context.Context, id string) (bool, error)
	// Reset clears the recorded attempts for an identifier.
	Reset(ctx context.Context, id string) error
}

// Memory is a process-local sliding-window limiter. Entries older than the
// window are evicted lazily on each check.
type Memory struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	max      int
	window   time.Duration
	now      func() time.Time
}

func NewMemory(max int, window time.Duration) *Memory {
	return &Memory{
		attempts: make(map[string][]time.Time),
		max:      max,
		window:   window,
		now:      time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.attempts[id][:0]
	for _, ts := range m.attempts[id] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= m.max {
		m.attempts[id] = kept
		return false, nil
	}
	m.attempts[id] = append(kept, now)
	return true, nil
}

func (m *Memory) Reset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, id)
	return nil
}
