// Package keylock provides per-key mutual exclusion for the write pipeline.
//
// The engine's read-recompute-write sequence over one entity's sibling set is
// not safe under concurrent execution; every pipeline invocation for a key
// must hold that key's lock from version write through schedule decision.
package keylock

import (
	"context"
	"sync"
)

// Locker serializes work per key. Acquire blocks until the key's lock is held
// or the context is done, and returns the release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// keyLock is a single-slot semaphore: sending occupies the lock, receiving
// releases it. The channel form lets waiters select against cancellation.
type keyLock struct {
	slot    chan struct{}
	waiters int
}

// Mutex is an in-process Locker backed by one semaphore per active key.
// Suitable for single-node deployments where all writers share the process.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewMutex creates an empty in-process locker.
func NewMutex() *Mutex {
	return &Mutex{locks: make(map[string]*keyLock)}
}

func (m *Mutex) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &keyLock{slot: make(chan struct{}, 1)}
		m.locks[key] = lock
	}
	lock.waiters++
	m.mu.Unlock()

	select {
	case lock.slot <- struct{}{}:
	case <-ctx.Done():
		m.leave(key, lock)
		return nil, ctx.Err()
	}

	release := func() {
		<-lock.slot
		m.leave(key, lock)
	}
	return release, nil
}

// leave drops one waiter and garbage-collects the key once idle. A key is
// only deleted at zero waiters, so a holder's entry can never disappear
// underneath it.
func (m *Mutex) leave(key string, lock *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.waiters--
	if lock.waiters == 0 {
		delete(m.locks, key)
	}
}
