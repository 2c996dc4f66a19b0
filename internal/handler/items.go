package handler

import (
	"context"
	"errors"

	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// invError maps inventory-domain errors to wire codes.
func invError(err error) error {
	switch {
	case errors.Is(err, world.ErrInvalidSlot):
		return wire.Validation(wire.CodeInvInvalidSlot, "invalid inventory slot")
	case errors.Is(err, world.ErrSlotEmpty):
		return wire.Validation(wire.CodeInvSlotEmpty, "slot is empty")
	case errors.Is(err, world.ErrInventoryFull):
		return wire.Validation(wire.CodeInvInventoryFull, "inventory is full")
	case errors.Is(err, world.ErrInsufficientQuantity):
		return wire.Validation(wire.CodeInvInsufficientQuantity, "not enough items in the stack")
	}
	return err
}

func (h *Handler) handleInventoryMove(ctx context.Context, p player, msg wire.Message) error {
	var req wire.InventoryMovePayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	err := h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(p.ID)
		if err != nil {
			return err
		}
		if err := inv.Move(req.FromSlot, req.ToSlot, h.items); err != nil {
			return invError(err)
		}
		tx.SetInventory(p.ID, inv)
		return nil
	})
	if err != nil {
		return err
	}
	h.success(p.ID, msg.ID)
	return nil
}

func (h *Handler) handleInventorySort(ctx context.Context, p player, msg wire.Message) error {
	var req wire.InventorySortPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	var result wire.InventorySortResult
	err := h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(p.ID)
		if err != nil {
			return err
		}
		moved, merged, err := inv.Sort(req.SortBy, h.items)
		if err != nil {
			return wire.Validation(wire.CodeInvInvalidSlot, "unknown sort key "+req.SortBy)
		}
		result = wire.InventorySortResult{ItemsMoved: moved, StacksMerged: merged}
		tx.SetInventory(p.ID, inv)
		return nil
	})
	if err != nil {
		return err
	}
	h.data(p.ID, msg.ID, result)
	return nil
}

func (h *Handler) handleEquip(ctx context.Context, p player, msg wire.Message) error {
	var req wire.ItemEquipPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	var snapshot wire.EquipmentSnapshot
	err := h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(p.ID)
		if err != nil {
			return err
		}
		eq, err := tx.Equipment(p.ID)
		if err != nil {
			return err
		}
		skills, err := tx.Skills(p.ID)
		if err != nil {
			return err
		}
		if err := world.Equip(inv, eq, req.InventorySlot, h.items, skills); err != nil {
			switch {
			case errors.Is(err, world.ErrNotEquipable):
				return wire.Validation(wire.CodeEqItemNotEquipable, "item cannot be equipped")
			case errors.Is(err, world.ErrLevelTooLow):
				return wire.Validation(wire.CodeEqLevelTooLow, "skill level too low")
			}
			return invError(err)
		}
		st, err := tx.State(p.ID)
		if err != nil {
			return err
		}
		st.AttackSpeed = eq.WeaponSpeed(h.items, h.cfg.Combat.BaseAttackSpeed)
		st.BumpVisual()
		tx.SetState(st)
		tx.SetInventory(p.ID, inv)
		tx.SetEquipment(p.ID, eq)
		snapshot = h.equipmentSnapshot(eq)
		return nil
	})
	if err != nil {
		return err
	}
	h.data(p.ID, msg.ID, snapshot)
	return nil
}

func (h *Handler) handleUnequip(ctx context.Context, p player, msg wire.Message) error {
	var req wire.ItemUnequipPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	var snapshot wire.EquipmentSnapshot
	err := h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(p.ID)
		if err != nil {
			return err
		}
		eq, err := tx.Equipment(p.ID)
		if err != nil {
			return err
		}
		if err := world.Unequip(inv, eq, req.EquipmentSlot); err != nil {
			switch {
			case errors.Is(err, world.ErrInvalidSlot):
				return wire.Validation(wire.CodeEqInvalidSlot, "unknown equipment slot "+req.EquipmentSlot)
			case errors.Is(err, world.ErrInventoryFull):
				return wire.Validation(wire.CodeEqCannotUnequipFullInv, "no room in inventory")
			}
			return invError(err)
		}
		st, err := tx.State(p.ID)
		if err != nil {
			return err
		}
		st.AttackSpeed = eq.WeaponSpeed(h.items, h.cfg.Combat.BaseAttackSpeed)
		st.BumpVisual()
		tx.SetState(st)
		tx.SetInventory(p.ID, inv)
		tx.SetEquipment(p.ID, eq)
		snapshot = h.equipmentSnapshot(eq)
		return nil
	})
	if err != nil {
		return err
	}
	h.data(p.ID, msg.ID, snapshot)
	return nil
}

// handleDrop moves a stack (or part of one, quantity 0 = all) from the
// inventory onto the player's tile, with the normal per-rarity loot
// protection in the dropper's favor.
func (h *Handler) handleDrop(ctx context.Context, p player, msg wire.Message) error {
	var req wire.ItemDropPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	now := h.clock()
	var dropped *world.GroundItem
	err := h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		st, err := tx.State(p.ID)
		if err != nil {
			return err
		}
		if !st.Alive() {
			return wire.Validation(wire.CodePlayerDead, "dead players cannot drop items")
		}
		inv, err := tx.Inventory(p.ID)
		if err != nil {
			return err
		}
		qty := req.Quantity
		if qty <= 0 {
			if !inv.ValidSlot(req.InventorySlot) {
				return wire.Validation(wire.CodeInvInvalidSlot, "invalid inventory slot")
			}
			s := inv.Slots[req.InventorySlot]
			if s == nil {
				return wire.Validation(wire.CodeInvSlotEmpty, "slot is empty")
			}
			qty = s.Quantity
		}
		removed, err := inv.Remove(req.InventorySlot, qty)
		if err != nil {
			return invError(err)
		}
		kind := h.items.Get(removed.KindID)
		if kind == nil {
			return world.ErrUnknownItemKind
		}
		dropped = &world.GroundItem{
			ID:         world.NextGroundItemID(),
			KindID:     removed.KindID,
			Name:       kind.Name,
			Rarity:     kind.Rarity,
			Pos:        st.Pos,
			Quantity:   removed.Quantity,
			Durability: removed.Durability,
			DroppedBy:  p.ID,
			DroppedAt:  now,
			PublicAt:   now.Add(h.cfg.LootProtection(kind.Rarity)),
			DespawnAt:  now.Add(h.cfg.DespawnTime(kind.Rarity)),
		}
		tx.SetInventory(p.ID, inv)
		// dropping breaks off the current fight
		if st.Target != nil {
			st.Target = nil
			tx.SetState(st)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.store.AddGroundItem(dropped)
	added := wire.GroundItemAddedPayload{
		ID:       dropped.ID,
		KindID:   dropped.KindID,
		Name:     dropped.Name,
		Rarity:   dropped.Rarity,
		X:        dropped.Pos.X,
		Y:        dropped.Pos.Y,
		Quantity: dropped.Quantity,
	}
	if frame, err := wire.EncodeEvent(wire.EventGroundItemAdded, added); err == nil {
		h.sessions.ToMap(dropped.Pos.MapID, frame)
	}
	h.data(p.ID, msg.ID, added)
	return nil
}

// handlePickup takes a ground item into the inventory. Items under someone
// else's loot protection answer as not found; their existence is hidden.
func (h *Handler) handlePickup(ctx context.Context, p player, msg wire.Message) error {
	var req wire.ItemPickupPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	st, err := h.store.GetPlayerState(ctx, p.ID)
	if err != nil {
		return err
	}
	if !st.Alive() {
		return wire.Validation(wire.CodePlayerDead, "dead players cannot pick up items")
	}

	now := h.clock()
	g := h.store.GetGroundItem(req.GroundItemID)
	if g == nil || g.Pos.MapID != st.Pos.MapID || !g.VisibleTo(p.ID, now) {
		return wire.Validation(wire.CodeGroundItemNotFound, "ground item not found")
	}
	if world.Dist(st.Pos, g.Pos) > h.cfg.Combat.PickupRange {
		return wire.Validation(wire.CodeCombatOutOfRange, "too far away to pick up")
	}

	// Claim the item before touching the inventory; a concurrent pickup or
	// the despawn sweep loses the race here, not halfway through.
	taken := h.store.RemoveGroundItem(req.GroundItemID)
	if taken == nil {
		return wire.Validation(wire.CodeGroundItemNotFound, "ground item not found")
	}
	stack := world.ItemStack{KindID: taken.KindID, Quantity: taken.Quantity, Durability: taken.Durability}
	err = h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(p.ID)
		if err != nil {
			return err
		}
		if err := inv.Add(stack, h.items); err != nil {
			return invError(err)
		}
		tx.SetInventory(p.ID, inv)
		// picking up breaks off the current fight
		cur, err := tx.State(p.ID)
		if err != nil {
			return err
		}
		if cur.Target != nil {
			cur.Target = nil
			tx.SetState(cur)
		}
		return nil
	})
	if err != nil {
		h.store.AddGroundItem(taken)
		return err
	}

	if frame, err := wire.EncodeEvent(wire.EventGroundItemRemoved, wire.GroundItemRemovedPayload{ID: taken.ID}); err == nil {
		h.sessions.ToMap(taken.Pos.MapID, frame)
	}
	h.success(p.ID, msg.ID)
	return nil
}
