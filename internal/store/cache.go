// Package store is the hot-state tier: an in-memory versioned cache with
// per-entry TTL, read-through from the durable repositories, dirty-bucket
// tracking and a background flusher. The cache is authoritative while
// players are online; the database is authoritative at cold start.
package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTxConflict is returned when an optimistic transaction exhausts its
// retries. Handlers surface it as a system error; there is no silent
// fallback to non-atomic writes.
var ErrTxConflict = errors.New("cache transaction conflict")

type entry struct {
	val any
	ver uint64
	ttl time.Duration // 0 = never expires
	exp time.Time
}

// Cache is a process-local key/value map with per-key versions. Multi-key
// writes go through Update, which commits only if every key read inside the
// transaction is still at the version it was read at.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64 // global version counter; recreated keys never reuse a version
	clock   func() time.Time

	maxRetries int
	backoff    time.Duration
}

func NewCache(maxRetries int, backoff time.Duration, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	return &Cache{
		entries:    make(map[string]*entry),
		clock:      clock,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// get returns the value and version for key. Expired entries read as absent.
// A hit on a TTL'd entry refreshes its expiry (refresh-on-access).
func (c *Cache) get(key string) (any, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (any, uint64, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	now := c.clock()
	if e.ttl > 0 {
		if now.After(e.exp) {
			delete(c.entries, key)
			return nil, 0, false
		}
		e.exp = now.Add(e.ttl)
	}
	return e.val, e.ver, true
}

// set stores key unconditionally with a fresh version.
func (c *Cache) set(key string, val any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, val, ttl)
}

func (c *Cache) setLocked(key string, val any, ttl time.Duration) {
	c.seq++
	e := &entry{val: val, ver: c.seq, ttl: ttl}
	if ttl > 0 {
		e.exp = c.clock().Add(ttl)
	}
	c.entries[key] = e
}

// delete removes key.
func (c *Cache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

type txWrite struct {
	val    any
	ttl    time.Duration
	delete bool
}

// Tx is one attempt of an optimistic transaction. Reads record the version
// seen (0 = absent); writes stage until commit.
type Tx struct {
	c      *Cache
	reads  map[string]uint64
	writes map[string]txWrite
}

// Get reads a key inside the transaction, observing staged writes first.
func (tx *Tx) Get(key string) (any, bool) {
	if w, ok := tx.writes[key]; ok {
		if w.delete {
			return nil, false
		}
		return w.val, true
	}
	val, ver, ok := tx.c.get(key)
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = ver
	}
	if !ok {
		return nil, false
	}
	return val, true
}

// Set stages a write.
func (tx *Tx) Set(key string, val any, ttl time.Duration) {
	tx.writes[key] = txWrite{val: val, ttl: ttl}
}

// Delete stages a removal.
func (tx *Tx) Delete(key string) {
	tx.writes[key] = txWrite{delete: true}
}

// commit applies the staged writes iff every read key is unchanged.
func (c *Cache) commit(tx *Tx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, seen := range tx.reads {
		_, cur, ok := c.getLocked(key)
		if !ok {
			cur = 0
		}
		if cur != seen {
			return false
		}
	}
	for key, w := range tx.writes {
		if w.delete {
			delete(c.entries, key)
			continue
		}
		c.setLocked(key, w.val, w.ttl)
	}
	return true
}

// Update runs fn in an optimistic transaction, retrying on conflict with
// exponential backoff. An error from fn aborts without retry.
func (c *Cache) Update(ctx context.Context, fn func(tx *Tx) error) error {
	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		tx := &Tx{c: c, reads: map[string]uint64{}, writes: map[string]txWrite{}}
		if err := fn(tx); err != nil {
			return err
		}
		if c.commit(tx) {
			return nil
		}
		if attempt >= c.maxRetries {
			return ErrTxConflict
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
