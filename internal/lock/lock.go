// Package lock provides per-code mutual exclusion around the ledger's
// read-then-append critical section. Two redemption requests for the same
// code must never both observe ACTIVE state before either appends its
// redeemed event.
package lock

import (
	"context"
	"sync"
)

// Locker serializes redemption (and issuance) per voucher code.
type Locker interface {
	// Acquire blocks until the code's lock is held and returns its release
	// func. The returned error is transient: callers should retry, never
	// treat it as a lifecycle failure.
	Acquire(ctx context.Context, code string) (func(), error)
}

// Memory is a keyed mutex for a single process owning the ledger. Entries
// are reference-counted and removed once the last holder releases, so the
// map does not grow with the code space.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*codeLock
}

type codeLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*codeLock)}
}

func (m *Memory) Acquire(_ context.Context, code string) (func(), error) {
	m.mu.Lock()
	cl, ok := m.locks[code]
	if !ok {
		cl = &codeLock{}
		m.locks[code] = cl
	}
	cl.refs++
	m.mu.Unlock()

	cl.mu.Lock()

	release := func() {
		cl.mu.Unlock()
		m.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(m.locks, code)
		}
		m.mu.Unlock()
	}
	return release, nil
}
