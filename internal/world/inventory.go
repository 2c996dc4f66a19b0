package world

import (
	"errors"
	"sort"

	"github.com/tilemud/server/internal/data"
)

// Domain errors surfaced by inventory/equipment rules. Handlers translate
// these to wire error codes.
var (
	ErrInvalidSlot          = errors.New("invalid slot")
	ErrSlotEmpty            = errors.New("slot is empty")
	ErrInventoryFull        = errors.New("inventory is full")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrNotEquipable         = errors.New("item is not equipable")
	ErrLevelTooLow          = errors.New("skill level too low")
	ErrUnknownItemKind      = errors.New("unknown item kind")
)

// ItemStack is one occupied inventory or equipment slot.
type ItemStack struct {
	KindID     int32
	Quantity   int32
	Durability int32
}

// Inventory is a fixed-capacity ordered array of slots; nil means empty.
type Inventory struct {
	Slots []*ItemStack
}

// NewInventory returns an empty inventory with the given capacity.
func NewInventory(capacity int) *Inventory {
	return &Inventory{Slots: make([]*ItemStack, capacity)}
}

// Clone deep-copies the inventory.
func (inv *Inventory) Clone() *Inventory {
	cp := &Inventory{Slots: make([]*ItemStack, len(inv.Slots))}
	for i, s := range inv.Slots {
		if s != nil {
			dup := *s
			cp.Slots[i] = &dup
		}
	}
	return cp
}

// ValidSlot reports whether i is inside the inventory.
func (inv *Inventory) ValidSlot(i int) bool { return i >= 0 && i < len(inv.Slots) }

// FreeSlot returns the first empty slot index, or -1.
func (inv *Inventory) FreeSlot() int {
	for i, s := range inv.Slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// Move applies CMD_INVENTORY_MOVE semantics: merge same stackable kinds up
// to the stack cap, move into an empty slot, otherwise swap.
func (inv *Inventory) Move(from, to int, items *data.ItemTable) error {
	if !inv.ValidSlot(from) || !inv.ValidSlot(to) || from == to {
		return ErrInvalidSlot
	}
	src := inv.Slots[from]
	if src == nil {
		return ErrSlotEmpty
	}
	dst := inv.Slots[to]
	if dst == nil {
		inv.Slots[to] = src
		inv.Slots[from] = nil
		return nil
	}
	if dst.KindID == src.KindID {
		if kind := items.Get(src.KindID); kind != nil && kind.Stackable {
			room := kind.StackCap - dst.Quantity
			if room > 0 {
				n := src.Quantity
				if n > room {
					n = room
				}
				dst.Quantity += n
				src.Quantity -= n
				if src.Quantity == 0 {
					inv.Slots[from] = nil
				}
				return nil
			}
		}
	}
	inv.Slots[from], inv.Slots[to] = dst, src
	return nil
}

// Add places a stack into the inventory: stackable kinds first top up
// existing stacks, then the remainder takes the first free slot. Returns
// ErrInventoryFull (with the inventory unchanged) when nothing fits.
func (inv *Inventory) Add(stack ItemStack, items *data.ItemTable) error {
	if stack.Quantity <= 0 {
		return ErrInsufficientQuantity
	}
	kind := items.Get(stack.KindID)
	if kind == nil {
		return ErrUnknownItemKind
	}
	if !kind.Stackable {
		free := inv.FreeSlot()
		if free < 0 {
			return ErrInventoryFull
		}
		dup := stack
		dup.Quantity = 1
		inv.Slots[free] = &dup
		return nil
	}

	// Dry-run capacity check so a failed add leaves no partial merge.
	remaining := stack.Quantity
	for _, s := range inv.Slots {
		if s != nil && s.KindID == stack.KindID {
			remaining -= kind.StackCap - s.Quantity
		}
	}
	if remaining > 0 && inv.FreeSlot() < 0 {
		return ErrInventoryFull
	}

	left := stack.Quantity
	for _, s := range inv.Slots {
		if left == 0 {
			break
		}
		if s != nil && s.KindID == stack.KindID && s.Quantity < kind.StackCap {
			n := kind.StackCap - s.Quantity
			if n > left {
				n = left
			}
			s.Quantity += n
			left -= n
		}
	}
	if left > 0 {
		dup := stack
		dup.Quantity = left
		inv.Slots[inv.FreeSlot()] = &dup
	}
	return nil
}

// Remove deducts quantity from a slot and returns the removed stack,
// preserving durability on the removed portion.
func (inv *Inventory) Remove(slot int, quantity int32) (ItemStack, error) {
	if !inv.ValidSlot(slot) {
		return ItemStack{}, ErrInvalidSlot
	}
	s := inv.Slots[slot]
	if s == nil {
		return ItemStack{}, ErrSlotEmpty
	}
	if quantity <= 0 || quantity > s.Quantity {
		return ItemStack{}, ErrInsufficientQuantity
	}
	removed := ItemStack{KindID: s.KindID, Quantity: quantity, Durability: s.Durability}
	s.Quantity -= quantity
	if s.Quantity == 0 {
		inv.Slots[slot] = nil
	}
	return removed, nil
}

// Sort keys for CMD_INVENTORY_SORT.
const (
	SortByName     = "name"
	SortByValue    = "value"
	SortByQuantity = "quantity"
)

// Sort compacts the inventory, merging stackable stacks and ordering the
// occupied slots by the given key. Returns how many items changed slots and
// how many stacks were merged away.
func (inv *Inventory) Sort(by string, items *data.ItemTable) (moved, merged int, err error) {
	switch by {
	case SortByName, SortByValue, SortByQuantity:
	default:
		return 0, 0, ErrInvalidSlot
	}

	var stacks []*ItemStack
	for _, s := range inv.Slots {
		if s == nil {
			continue
		}
		dup := *s
		stacks = append(stacks, &dup)
	}

	// Merge pass: fold later stacks into earlier ones of the same kind.
	for i := 0; i < len(stacks); i++ {
		kind := items.Get(stacks[i].KindID)
		if kind == nil || !kind.Stackable {
			continue
		}
		for j := i + 1; j < len(stacks); j++ {
			if stacks[j].Quantity == 0 || stacks[j].KindID != stacks[i].KindID {
				continue
			}
			room := kind.StackCap - stacks[i].Quantity
			if room <= 0 {
				break
			}
			n := stacks[j].Quantity
			if n > room {
				n = room
			}
			stacks[i].Quantity += n
			stacks[j].Quantity -= n
			if stacks[j].Quantity == 0 {
				merged++
			}
		}
	}
	compact := stacks[:0]
	for _, s := range stacks {
		if s.Quantity > 0 {
			compact = append(compact, s)
		}
	}

	name := func(s *ItemStack) string {
		if k := items.Get(s.KindID); k != nil {
			return k.Name
		}
		return ""
	}
	value := func(s *ItemStack) int32 {
		if k := items.Get(s.KindID); k != nil {
			return k.Value
		}
		return 0
	}
	sort.SliceStable(compact, func(i, j int) bool {
		a, b := compact[i], compact[j]
		switch by {
		case SortByValue:
			if value(a) != value(b) {
				return value(a) > value(b)
			}
		case SortByQuantity:
			if a.Quantity != b.Quantity {
				return a.Quantity > b.Quantity
			}
		}
		if name(a) != name(b) {
			return name(a) < name(b)
		}
		return a.KindID < b.KindID
	})

	for i := range inv.Slots {
		var want *ItemStack
		if i < len(compact) {
			want = compact[i]
		}
		prev := inv.Slots[i]
		inv.Slots[i] = want
		if !sameStack(prev, want) {
			if want != nil {
				moved++
			}
		}
	}
	return moved, merged, nil
}

func sameStack(a, b *ItemStack) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Occupied counts non-empty slots.
func (inv *Inventory) Occupied() int {
	n := 0
	for _, s := range inv.Slots {
		if s != nil {
			n++
		}
	}
	return n
}
