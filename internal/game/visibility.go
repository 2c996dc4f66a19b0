package game

import (
	"container/list"
	"sync"

	"github.com/tilemud/server/internal/wire"
)

// Visibility tracks, per player, the byte-encoded form of every entity the
// player was last sent. Diffing against it turns full per-tick snapshots
// into added/changed/removed deltas. Payload encoding is deterministic, so
// byte equality is semantic equality.
//
// The per-player maps live in an LRU bounded by cache_size; an evicted
// player simply receives one full resend on their next update.
type Visibility struct {
	mu      sync.Mutex
	cap     int
	order   *list.List // front = most recently diffed
	players map[int64]*visEntry
}

type visEntry struct {
	id   int64
	elem *list.Element
	seen map[string][]byte // entity ref → last sent payload bytes
}

func NewVisibility(capacity int) *Visibility {
	if capacity <= 0 {
		capacity = 1
	}
	return &Visibility{
		cap:     capacity,
		order:   list.New(),
		players: make(map[int64]*visEntry),
	}
}

// Diff compares the player's current snapshot against the last sent one and
// returns the payloads that are new or changed plus the refs that vanished.
// The snapshot becomes the new baseline.
func (v *Visibility) Diff(playerID int64, snapshot []wire.EntityPayload) (changed []wire.EntityPayload, removed []string, err error) {
	encoded := make(map[string][]byte, len(snapshot))
	for i := range snapshot {
		raw, merr := wire.Marshal(&snapshot[i])
		if merr != nil {
			return nil, nil, merr
		}
		encoded[snapshot[i].ID] = raw
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	e := v.players[playerID]
	if e == nil {
		e = &visEntry{id: playerID, seen: make(map[string][]byte)}
		e.elem = v.order.PushFront(e)
		v.players[playerID] = e
		v.evictLocked()
	} else {
		v.order.MoveToFront(e.elem)
	}

	for i := range snapshot {
		ref := snapshot[i].ID
		if prev, ok := e.seen[ref]; !ok || string(prev) != string(encoded[ref]) {
			changed = append(changed, snapshot[i])
		}
	}
	for ref := range e.seen {
		if _, still := encoded[ref]; !still {
			removed = append(removed, ref)
		}
	}
	e.seen = encoded
	return changed, removed, nil
}

// Remove drops the player's baseline (disconnect, map change).
func (v *Visibility) Remove(playerID int64) {
	v.mu.Lock()
	if e := v.players[playerID]; e != nil {
		v.order.Remove(e.elem)
		delete(v.players, playerID)
	}
	v.mu.Unlock()
}

// Len reports how many players currently hold a baseline.
func (v *Visibility) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.players)
}

func (v *Visibility) evictLocked() {
	for v.order.Len() > v.cap {
		back := v.order.Back()
		e := back.Value.(*visEntry)
		v.order.Remove(back)
		delete(v.players, e.id)
	}
}
