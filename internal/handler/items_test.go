package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

func (f *fixture) inventory(t *testing.T, id int64) *world.Inventory {
	t.Helper()
	inv, err := f.store.GetInventory(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func TestInventoryMove(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 1, Quantity: 50}) // coins, slot 0
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})  // apple, slot 1

	// to an empty slot
	resp := f.command(t, alice(), wire.CmdInventoryMove, wire.InventoryMovePayload{FromSlot: 1, ToSlot: 5})
	require.Equal(t, wire.RespSuccess, resp.Type)
	inv := f.inventory(t, 1)
	assert.Nil(t, inv.Slots[1])
	require.NotNil(t, inv.Slots[5])
	assert.EqualValues(t, 3, inv.Slots[5].KindID)

	// onto an occupied slot of a different kind: swap
	resp = f.command(t, alice(), wire.CmdInventoryMove, wire.InventoryMovePayload{FromSlot: 0, ToSlot: 5})
	require.Equal(t, wire.RespSuccess, resp.Type)
	inv = f.inventory(t, 1)
	assert.EqualValues(t, 3, inv.Slots[0].KindID)
	assert.EqualValues(t, 1, inv.Slots[5].KindID)
}

func TestInventoryMoveErrors(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdInventoryMove, wire.InventoryMovePayload{FromSlot: 0, ToSlot: 1})
	requireError(t, resp, wire.CodeInvSlotEmpty)

	resp = f.command(t, alice(), wire.CmdInventoryMove, wire.InventoryMovePayload{FromSlot: -1, ToSlot: 1})
	requireError(t, resp, wire.CodeInvInvalidSlot)
}

func TestInventorySort(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 1, Quantity: 5}) // coins, slot 0
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1}) // apple, slot 1

	resp := f.command(t, alice(), wire.CmdInventorySort, wire.InventorySortPayload{SortBy: "name"})
	require.Equal(t, wire.RespData, resp.Type)
	var result wire.InventorySortResult
	require.NoError(t, wire.DecodePayload(resp, &result))
	assert.Equal(t, 2, result.ItemsMoved, "apple and coins swap slots")
	assert.Equal(t, 0, result.StacksMerged)

	inv := f.inventory(t, 1)
	assert.EqualValues(t, 3, inv.Slots[0].KindID, "apple sorts before coins")
	assert.EqualValues(t, 1, inv.Slots[1].KindID)
}

func TestInventorySortUnknownKey(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdInventorySort, wire.InventorySortPayload{SortBy: "color"})
	requireError(t, resp, wire.CodeInvInvalidSlot)
}

func TestEquipWeapon(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 2, Quantity: 1, Durability: 100})

	resp := f.command(t, alice(), wire.CmdItemEquip, wire.ItemEquipPayload{InventorySlot: 0})
	require.Equal(t, wire.RespData, resp.Type)
	var snap wire.EquipmentSnapshot
	require.NoError(t, wire.DecodePayload(resp, &snap))
	require.Contains(t, snap.Slots, data.SlotWeapon)
	assert.EqualValues(t, 2, snap.Slots[data.SlotWeapon].KindID)

	assert.Nil(t, f.inventory(t, 1).Slots[0])
	assert.Equal(t, 2.4, f.playerState(t, 1).AttackSpeed, "weapon speed takes over")
}

func TestEquipLevelTooLow(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 4, Quantity: 1})

	resp := f.command(t, alice(), wire.CmdItemEquip, wire.ItemEquipPayload{InventorySlot: 0})
	requireError(t, resp, wire.CodeEqLevelTooLow)
	require.NotNil(t, f.inventory(t, 1).Slots[0], "item stays put")
}

func TestEquipNotEquipable(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})
	resp := f.command(t, alice(), wire.CmdItemEquip, wire.ItemEquipPayload{InventorySlot: 0})
	requireError(t, resp, wire.CodeEqItemNotEquipable)
}

func TestUnequipWeapon(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 2, Quantity: 1, Durability: 100})
	resp := f.command(t, alice(), wire.CmdItemEquip, wire.ItemEquipPayload{InventorySlot: 0})
	require.Equal(t, wire.RespData, resp.Type)

	resp = f.command(t, alice(), wire.CmdItemUnequip, wire.ItemUnequipPayload{EquipmentSlot: data.SlotWeapon})
	require.Equal(t, wire.RespData, resp.Type)

	inv := f.inventory(t, 1)
	require.NotNil(t, inv.Slots[0])
	assert.EqualValues(t, 2, inv.Slots[0].KindID)
	assert.EqualValues(t, 100, inv.Slots[0].Durability, "durability survives the round trip")
	assert.Equal(t, f.cfg.Combat.BaseAttackSpeed, f.playerState(t, 1).AttackSpeed)
}

func TestUnequipInvalidSlot(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdItemUnequip, wire.ItemUnequipPayload{EquipmentSlot: "tail"})
	requireError(t, resp, wire.CodeEqInvalidSlot)
}

func TestDropCreatesProtectedGroundItem(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})

	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))
	assert.Equal(t, "apple", added.Name)
	assert.EqualValues(t, 5, added.X)
	assert.EqualValues(t, 5, added.Y)

	assert.Nil(t, f.inventory(t, 1).Slots[0])

	g := f.store.GetGroundItem(added.ID)
	require.NotNil(t, g)
	assert.EqualValues(t, 1, g.DroppedBy)
	assert.True(t, g.PublicAt.After(g.DroppedAt), "loot protection window set")
	assert.True(t, g.DespawnAt.After(g.PublicAt))

	seen := false
	for _, frame := range f.sess.takeMap(1) {
		msg, err := wire.Decode(frame)
		require.NoError(t, err)
		if msg.Type == wire.EventGroundItemAdded {
			seen = true
		}
	}
	assert.True(t, seen, "drop announced to the map")
}

func TestDropBreaksCombat(t *testing.T) {
	f := newFixture(t)
	rat := f.addRat(t, world.Position{MapID: 1, X: 6, Y: 5})
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})

	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: rat.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)
	require.NotNil(t, f.playerState(t, 1).Target)

	resp = f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	assert.Nil(t, f.playerState(t, 1).Target, "dropping disengages")
}

func TestDropWholeStackByDefault(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 1, Quantity: 250})

	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))
	assert.EqualValues(t, 250, added.Quantity)
	assert.Nil(t, f.inventory(t, 1).Slots[0])
}

func TestDropEmptySlot(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 3})
	requireError(t, resp, wire.CodeInvSlotEmpty)
}

func TestPickupRespectsLootProtection(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})
	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))

	// bob stands adjacent but the item is still protected for alice, so it
	// reads as nonexistent to him
	resp = f.command(t, bob(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	requireError(t, resp, wire.CodeGroundItemNotFound)

	// the dropper may take it back immediately
	resp = f.command(t, alice(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)
	require.NotNil(t, f.inventory(t, 1).Slots[0])
	assert.Nil(t, f.store.GetGroundItem(added.ID))
}

func TestPickupAfterProtectionExpires(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})
	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))

	f.advance(f.cfg.LootProtection("common"))
	resp = f.command(t, bob(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)
	require.NotNil(t, f.inventory(t, 2).Slots[0])
	assert.EqualValues(t, 3, f.inventory(t, 2).Slots[0].KindID)

	removed := false
	for _, frame := range f.sess.takeMap(1) {
		msg, err := wire.Decode(frame)
		require.NoError(t, err)
		if msg.Type == wire.EventGroundItemRemoved {
			removed = true
		}
	}
	assert.True(t, removed, "pickup announced to the map")
}

func TestPickupPreservesDurability(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 2, Quantity: 1, Durability: 37})

	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))

	g := f.store.GetGroundItem(added.ID)
	require.NotNil(t, g)
	assert.EqualValues(t, 37, g.Durability)

	resp = f.command(t, alice(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)
	slot := f.inventory(t, 1).Slots[0]
	require.NotNil(t, slot)
	assert.EqualValues(t, 37, slot.Durability, "wear survives the drop and pickup")
}

func TestPickupBreaksCombat(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})
	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))

	rat := f.addRat(t, world.Position{MapID: 1, X: 6, Y: 5})
	resp = f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: rat.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)
	require.NotNil(t, f.playerState(t, 1).Target)

	resp = f.command(t, alice(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)
	assert.Nil(t, f.playerState(t, 1).Target, "picking up disengages")
}

func TestPickupOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 2, world.ItemStack{KindID: 3, Quantity: 1})
	resp := f.command(t, bob(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))

	// root is at (1,1), five tiles from the item at (6,5)
	f.advance(f.cfg.LootProtection("common"))
	resp = f.command(t, admin(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	requireError(t, resp, wire.CodeCombatOutOfRange)
	require.NotNil(t, f.store.GetGroundItem(added.ID), "item stays on the ground")
}

func TestPickupFullInventoryPutsItemBack(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})
	resp := f.command(t, alice(), wire.CmdItemDrop, wire.ItemDropPayload{InventorySlot: 0, Quantity: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var added wire.GroundItemAddedPayload
	require.NoError(t, wire.DecodePayload(resp, &added))

	// fill every slot with unstackable apples
	for i := 0; i < f.cfg.Game.InventorySlots; i++ {
		f.giveItem(t, 1, world.ItemStack{KindID: 3, Quantity: 1})
	}

	resp = f.command(t, alice(), wire.CmdItemPickup, wire.ItemPickupPayload{GroundItemID: added.ID})
	requireError(t, resp, wire.CodeInvInventoryFull)
	require.NotNil(t, f.store.GetGroundItem(added.ID), "item back on the ground after the failed add")
}

func TestQueryInventorySnapshot(t *testing.T) {
	f := newFixture(t)
	f.giveItem(t, 1, world.ItemStack{KindID: 1, Quantity: 42})

	resp := f.command(t, alice(), wire.QueryInventory, nil)
	require.Equal(t, wire.RespData, resp.Type)
	var snap wire.InventorySnapshot
	require.NoError(t, wire.DecodePayload(resp, &snap))
	assert.Equal(t, f.cfg.Game.InventorySlots, snap.Capacity)
	require.Len(t, snap.Slots, 1)
	assert.Equal(t, "coins", snap.Slots[0].Name)
	assert.EqualValues(t, 42, snap.Slots[0].Quantity)
}

func TestQueryStatsSnapshot(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.QueryStats, nil)
	require.Equal(t, wire.RespData, resp.Type)
	var snap wire.StatsSnapshot
	require.NoError(t, wire.DecodePayload(resp, &snap))
	assert.EqualValues(t, 10, snap.HP)
	assert.EqualValues(t, 10, snap.MaxHP)

	byName := map[string]wire.SkillPayload{}
	for _, s := range snap.Skills {
		byName[s.Skill] = s
	}
	require.Contains(t, byName, "hitpoints")
	require.Contains(t, byName, "attack")
	assert.Equal(t, 10, byName["hitpoints"].Level)
	assert.Equal(t, 1, byName["attack"].Level)
	assert.Greater(t, byName["attack"].NextAt, int64(0))
}

func TestQueryMapChunks(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.QueryMapChunks, wire.MapChunksQuery{CenterX: 5, CenterY: 5, Radius: 1})
	require.Equal(t, wire.RespData, resp.Type)
	var result wire.MapChunksResult
	require.NoError(t, wire.DecodePayload(resp, &result))
	assert.EqualValues(t, 1, result.MapID)
	assert.Equal(t, f.cfg.Maps.ChunkSize, result.ChunkSize)
	// a 20x20 map with 16-tile chunks is a 2x2 chunk grid; radius 1 around
	// chunk (0,0) covers all of it
	assert.Len(t, result.Chunks, 4)
	require.NotEmpty(t, result.Chunks[0].Layers)
	assert.Equal(t, "ground", result.Chunks[0].Layers[0].Name)
}

func TestQueryMapChunksRejectsFarCenter(t *testing.T) {
	f := newFixture(t)
	far := f.cfg.Maps.MaxChunkDistance + 1
	resp := f.command(t, alice(), wire.QueryMapChunks, wire.MapChunksQuery{CenterX: 5 + far, CenterY: 5})
	requireError(t, resp, wire.CodeMapInvalidCoords)
}

func TestQueryMapChunksRejectsOversizedRadius(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.QueryMapChunks, wire.MapChunksQuery{
		CenterX: 5, CenterY: 5, Radius: f.cfg.Maps.MaxChunkRadius + 1,
	})
	e := requireError(t, resp, wire.CodeMapInvalidCoords)
	assert.Contains(t, e.Details, "max_radius")
}
