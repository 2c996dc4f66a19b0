package game

import (
	"sync"
	"time"
)

// ActionLimiter enforces per-player, per-operation cooldowns (move, attack,
// chat). Distinct from the connection-level frame limiter: exceeding an
// action cooldown is answered with a rate-limit error, never a disconnect.
type ActionLimiter struct {
	mu    sync.Mutex
	last  map[int64]map[string]time.Time
	clock func() time.Time
}

func NewActionLimiter(clock func() time.Time) *ActionLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &ActionLimiter{last: make(map[int64]map[string]time.Time), clock: clock}
}

// Allow records an attempt at op. When the cooldown has not elapsed it
// returns false and the remaining wait; an allowed attempt resets the clock.
func (l *ActionLimiter) Allow(playerID int64, op string, cooldown time.Duration) (time.Duration, bool) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := l.last[playerID]
	if ops == nil {
		ops = make(map[string]time.Time)
		l.last[playerID] = ops
	}
	if prev, ok := ops[op]; ok {
		if elapsed := now.Sub(prev); elapsed < cooldown {
			return cooldown - elapsed, false
		}
	}
	ops[op] = now
	return 0, true
}

// Remove clears the player's cooldown state on disconnect.
func (l *ActionLimiter) Remove(playerID int64) {
	l.mu.Lock()
	delete(l.last, playerID)
	l.mu.Unlock()
}
