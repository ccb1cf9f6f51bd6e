// Package actionguard provides a keyed in-memory pending-action registry.
// It serializes short UI-driven operations (claim/reroll/reveal button
// presses) per (user, resource) key: the marker is acquired before work
// starts and released on every exit path, and a duplicate request seen
// while the marker is held is dropped rather than queued.
package actionguard

import (
	"fmt"
	"sync"
)

// keyedMutex wraps a mutex with reference counting for cleanup.
type keyedMutex struct {
	mu       sync.Mutex
	refCount int
}

// Guard provides per-key locking to prevent duplicate in-flight actions
// and race conditions on a single game or card.
type Guard struct {
	locks sync.Map // map[string]*keyedMutex
	pool  sync.Pool
}

// New creates a new Guard instance.
func New() *Guard {
	return &Guard{
		pool: sync.Pool{
			New: func() any {
				return &keyedMutex{}
			},
		},
	}
}

// Key builds a composite guard key from user, chat and action name.
func Key(userID, chatID int64, action string) string {
	return fmt.Sprintf("%d:%d:%s", userID, chatID, action)
}

// ResourceKey builds a guard key for a single resource (one rolled card,
// one game) independent of which user is acting on it.
func ResourceKey(resource string, id int64) string {
	return fmt.Sprintf("%s:%d", resource, id)
}

// getLock retrieves or creates a mutex for the given key.
func (g *Guard) getLock(key string) *keyedMutex {
	if v, ok := g.locks.Load(key); ok {
		return v.(*keyedMutex)
	}

	newLock := g.pool.Get().(*keyedMutex)
	newLock.refCount = 0

	// Store or load existing (handles creation race)
	actual, loaded := g.locks.LoadOrStore(key, newLock)
	if loaded {
		g.pool.Put(newLock)
	}
	return actual.(*keyedMutex)
}

// Lock acquires the lock for a key, blocking until available.
func (g *Guard) Lock(key string) {
	lock := g.getLock(key)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a key.
func (g *Guard) Unlock(key string) {
	if v, ok := g.locks.Load(key); ok {
		lock := v.(*keyedMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryAcquire attempts to set the pending-action marker without blocking.
// Returns true if acquired; a false return means the same action is
// already in flight and the caller should drop the request.
func (g *Guard) TryAcquire(key string) bool {
	lock := g.getLock(key)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// Release clears the pending-action marker.
func (g *Guard) Release(key string) {
	g.Unlock(key)
}

// Do runs fn while holding the pending-action marker for key.
// If the marker is already held the function is not run and Do reports
// ran=false; the caller acknowledges and drops the duplicate silently.
// The marker is released on every exit path, including panics in fn.
func (g *Guard) Do(key string, fn func() error) (ran bool, err error) {
	if !g.TryAcquire(key) {
		return false, nil
	}
	defer g.Release(key)
	return true, fn()
}

// WithLock executes fn while holding the blocking lock for key.
func (g *Guard) WithLock(key string, fn func() error) error {
	g.Lock(key)
	defer g.Unlock(key)
	return fn()
}

// IsPending checks if a key currently has an in-flight action.
// This is a point-in-time check and may change immediately after.
func (g *Guard) IsPending(key string) bool {
	if v, ok := g.locks.Load(key); ok {
		lock := v.(*keyedMutex)
		if lock.mu.TryLock() {
			lock.mu.Unlock()
			return false
		}
		return true
	}
	return false
}
