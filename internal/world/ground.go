package world

import (
	"fmt"
	"sync/atomic"
	"time"
)

var groundSeq atomic.Int64

// NextGroundItemID allocates a process-unique ground-item id. SeedGroundItemID
// raises the floor after cold-loading persisted items.
func NextGroundItemID() int64 { return groundSeq.Add(1) }

// SeedGroundItemID ensures future ids are above min.
func SeedGroundItemID(min int64) {
	for {
		cur := groundSeq.Load()
		if cur >= min || groundSeq.CompareAndSwap(cur, min) {
			return
		}
	}
}

// GroundItem is one item stack lying on a map tile. Durability carries the
// stack's wear across the drop and pickup, so a damaged weapon comes back in
// the state it left.
type GroundItem struct {
	ID         int64
	KindID     int32
	Name       string
	Rarity     string
	Pos        Position
	Quantity   int32
	Durability int32

	DroppedBy int64 // 0 = world drop (no protection owner)
	DroppedAt time.Time
	PublicAt  time.Time // loot protection expires
	DespawnAt time.Time
}

// Clone copies the item.
func (g *GroundItem) Clone() *GroundItem {
	cp := *g
	return &cp
}

// VisibleTo applies loot protection: during the protection window only the
// dropper sees (and may pick up) the item.
func (g *GroundItem) VisibleTo(playerID int64, now time.Time) bool {
	return g.DroppedBy == playerID || !now.Before(g.PublicAt)
}

// Expired reports whether the despawn sweep should remove the item.
func (g *GroundItem) Expired(now time.Time) bool {
	return !now.Before(g.DespawnAt)
}

// DisplayName is the client-facing name, with a quantity suffix on stacks.
func (g *GroundItem) DisplayName() string {
	if g.Quantity > 1 {
		return fmt.Sprintf("%s (%d)", g.Name, g.Quantity)
	}
	return g.Name
}
