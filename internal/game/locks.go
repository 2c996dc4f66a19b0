// Package game holds the simulation core: the tick loop and its systems,
// entity AI, combat resolution, the visibility diff engine, per-player
// locking and action rate limits.
package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a per-player lock cannot be taken inside
// the acquire window.
var ErrLockTimeout = errors.New("player lock acquire timed out")

// LockManager serializes mutation of one player's state across handler
// goroutines and the tick loop. One semaphore per player id; handlers block
// (bounded), tick systems TryAcquire and skip busy players.
type LockManager struct {
	mu      sync.Mutex
	locks   map[int64]chan struct{}
	timeout time.Duration
}

func NewLockManager(timeout time.Duration) *LockManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LockManager{locks: make(map[int64]chan struct{}), timeout: timeout}
}

func (m *LockManager) sem(id int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.locks[id]
	if !ok {
		s = make(chan struct{}, 1)
		m.locks[id] = s
	}
	return s
}

// Acquire takes the player's lock, waiting up to the configured timeout.
func (m *LockManager) Acquire(ctx context.Context, id int64) error {
	s := m.sem(id)
	select {
	case s <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case s <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the lock without waiting.
func (m *LockManager) TryAcquire(id int64) bool {
	select {
	case m.sem(id) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the player's lock.
func (m *LockManager) Release(id int64) {
	select {
	case <-m.sem(id):
	default:
	}
}

// AcquireMany takes several player locks in ascending id order, so two
// concurrent multi-player operations can never deadlock against each other.
// On failure every lock taken so far is released.
func (m *LockManager) AcquireMany(ctx context.Context, ids ...int64) error {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		if err := m.Acquire(ctx, id); err != nil {
			for j := 0; j < i; j++ {
				if j == 0 || sorted[j] != sorted[j-1] {
					m.Release(sorted[j])
				}
			}
			return err
		}
	}
	return nil
}

// ReleaseMany frees locks taken by AcquireMany.
func (m *LockManager) ReleaseMany(ids ...int64) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m.Release(id)
	}
}

// Remove drops the player's semaphore after disconnect so the map does not
// grow without bound.
func (m *LockManager) Remove(id int64) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}
