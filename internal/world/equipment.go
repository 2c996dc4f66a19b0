package world

import "github.com/tilemud/server/internal/data"

// Equipment maps slot name → worn stack. Quantity is 1 except for ammo.
type Equipment struct {
	Slots map[string]*ItemStack
}

// NewEquipment returns an empty equipment set.
func NewEquipment() *Equipment {
	return &Equipment{Slots: make(map[string]*ItemStack)}
}

// Clone deep-copies the equipment.
func (eq *Equipment) Clone() *Equipment {
	cp := NewEquipment()
	for slot, s := range eq.Slots {
		dup := *s
		cp.Slots[slot] = &dup
	}
	return cp
}

// Get returns the worn stack for a slot, or nil.
func (eq *Equipment) Get(slot string) *ItemStack { return eq.Slots[slot] }

// Bonuses sums the combat bonuses over all worn items. A weapon at zero
// durability contributes only half its attack bonus.
func (eq *Equipment) Bonuses(items *data.ItemTable) (attack, strength, defence int) {
	for slot, s := range eq.Slots {
		kind := items.Get(s.KindID)
		if kind == nil {
			continue
		}
		ab := kind.AttackBonus
		if slot == data.SlotWeapon && kind.MaxDurability > 0 && s.Durability == 0 {
			ab /= 2
		}
		attack += ab
		strength += kind.StrengthBonus
		defence += kind.DefenceBonus
	}
	return attack, strength, defence
}

// WeaponSpeed returns the equipped weapon's attack speed in seconds, or the
// given base when unarmed or the weapon carries no speed.
func (eq *Equipment) WeaponSpeed(items *data.ItemTable, base float64) float64 {
	w := eq.Slots[data.SlotWeapon]
	if w == nil {
		return base
	}
	kind := items.Get(w.KindID)
	if kind == nil || kind.AttackSpeed <= 0 {
		return base
	}
	return kind.AttackSpeed
}

// MeetsRequirements checks the kind's skill requirements against levels.
// Returns the failing skill and needed level when not met.
func MeetsRequirements(kind *data.ItemKind, skills *Skills) (string, int, bool) {
	for skill, min := range kind.Requirements {
		if skills.Level(SkillKind(skill)) < min {
			return skill, min, false
		}
	}
	return "", 0, true
}

// Equip applies CMD_ITEM_EQUIP: take the item out of invSlot and wear it.
// A two-handed weapon forces the shield into the first free inventory slot;
// whatever previously occupied the destination equipment slot swaps back
// into the freed inventory slot. Both containers mutate only on success.
func Equip(inv *Inventory, eq *Equipment, invSlot int, items *data.ItemTable, skills *Skills) error {
	if !inv.ValidSlot(invSlot) {
		return ErrInvalidSlot
	}
	src := inv.Slots[invSlot]
	if src == nil {
		return ErrSlotEmpty
	}
	kind := items.Get(src.KindID)
	if kind == nil {
		return ErrUnknownItemKind
	}
	if !kind.Equipable() {
		return ErrNotEquipable
	}
	if _, _, ok := MeetsRequirements(kind, skills); !ok {
		return ErrLevelTooLow
	}

	slot := kind.EquipSlot
	needFree := 0
	var displacedShield *ItemStack
	if slot == data.SlotWeapon && kind.TwoHanded {
		displacedShield = eq.Slots[data.SlotShield]
	}
	// Equipping a shield while a two-handed weapon is worn displaces the
	// weapon instead.
	var displacedTwoHand *ItemStack
	if slot == data.SlotShield {
		if w := eq.Slots[data.SlotWeapon]; w != nil {
			if wk := items.Get(w.KindID); wk != nil && wk.TwoHanded {
				displacedTwoHand = w
			}
		}
	}
	if displacedShield != nil {
		needFree++
	}
	if displacedTwoHand != nil {
		needFree++
	}
	// Displacements need free slots beyond the one the equipped item vacates.
	free := 0
	for _, s := range inv.Slots {
		if s == nil {
			free++
		}
	}
	if free < needFree {
		return ErrInventoryFull
	}

	// Displaced pieces are placed before the source slot is vacated, so the
	// item being equipped never has its own slot reused for them.
	if displacedShield != nil {
		delete(eq.Slots, data.SlotShield)
		inv.Slots[inv.FreeSlot()] = displacedShield
	}
	if displacedTwoHand != nil {
		delete(eq.Slots, data.SlotWeapon)
		inv.Slots[inv.FreeSlot()] = displacedTwoHand
	}
	prev := eq.Slots[slot]
	inv.Slots[invSlot] = nil
	if prev != nil {
		inv.Slots[invSlot] = prev
	}
	eq.Slots[slot] = src
	return nil
}

// Unequip applies CMD_ITEM_UNEQUIP: move the worn stack into the first free
// inventory slot.
func Unequip(inv *Inventory, eq *Equipment, slot string) error {
	if !data.ValidEquipSlot(slot) {
		return ErrInvalidSlot
	}
	s := eq.Slots[slot]
	if s == nil {
		return ErrSlotEmpty
	}
	free := inv.FreeSlot()
	if free < 0 {
		return ErrInventoryFull
	}
	inv.Slots[free] = s
	delete(eq.Slots, slot)
	return nil
}

// DamageWeapon decrements the weapon's durability by one, flooring at zero.
// Reports whether anything changed.
func (eq *Equipment) DamageWeapon(items *data.ItemTable) bool {
	w := eq.Slots[data.SlotWeapon]
	if w == nil || w.Durability <= 0 {
		return false
	}
	kind := items.Get(w.KindID)
	if kind == nil || kind.MaxDurability <= 0 {
		return false
	}
	w.Durability--
	return true
}
