package handler

import (
	"context"
	"sort"

	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

func (h *Handler) handleQueryInventory(ctx context.Context, p player, msg wire.Message) error {
	inv, err := h.store.GetInventory(ctx, p.ID)
	if err != nil {
		return err
	}
	h.data(p.ID, msg.ID, h.inventorySnapshot(inv))
	return nil
}

func (h *Handler) handleQueryEquipment(ctx context.Context, p player, msg wire.Message) error {
	eq, err := h.store.GetEquipment(ctx, p.ID)
	if err != nil {
		return err
	}
	h.data(p.ID, msg.ID, h.equipmentSnapshot(eq))
	return nil
}

func (h *Handler) handleQueryStats(ctx context.Context, p player, msg wire.Message) error {
	st, err := h.store.GetPlayerState(ctx, p.ID)
	if err != nil {
		return err
	}
	skills, err := h.store.GetSkills(ctx, p.ID)
	if err != nil {
		return err
	}

	out := wire.StatsSnapshot{HP: st.HP, MaxHP: st.MaxHP}
	for kind, state := range skills.Kinds {
		mult := h.cfg.XPMultiplier(string(kind))
		out.Skills = append(out.Skills, wire.SkillPayload{
			Skill:    string(kind),
			Level:    state.Level,
			XP:       state.XP,
			NextAt:   world.XPForLevel(state.Level+1, mult),
			Progress: world.ProgressToNext(state.XP, mult),
		})
	}
	sort.Slice(out.Skills, func(i, j int) bool { return out.Skills[i].Skill < out.Skills[j].Skill })

	h.data(p.ID, msg.ID, out)
	return nil
}

// handleQueryMapChunks serves terrain around a point near the player. The
// query center may lead the player's position (client prefetch) but only up
// to max_chunk_distance; anything farther is treated as probing.
func (h *Handler) handleQueryMapChunks(ctx context.Context, p player, msg wire.Message) error {
	var req wire.MapChunksQuery
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	st, err := h.store.GetPlayerState(ctx, p.ID)
	if err != nil {
		return err
	}
	m := h.maps.Get(st.Pos.MapID)
	if m == nil {
		return wire.Validation(wire.CodeMapInvalidCoords, "unknown map")
	}
	if world.Chebyshev(req.CenterX, req.CenterY, st.Pos.X, st.Pos.Y) > h.cfg.Maps.MaxChunkDistance {
		return wire.Validation(wire.CodeMapInvalidCoords, "query center too far from player")
	}
	if req.Radius < 0 || req.Radius > h.cfg.Maps.MaxChunkRadius {
		return wire.Validation(wire.CodeMapInvalidCoords, "chunk radius out of range").
			WithDetail("max_radius", h.cfg.Maps.MaxChunkRadius)
	}

	chunks, err := h.maps.ChunksAround(st.Pos.MapID, req.CenterX, req.CenterY, req.Radius)
	if err != nil {
		return wire.Validation(wire.CodeMapInvalidCoords, "unknown map")
	}
	result := wire.MapChunksResult{
		MapID:     st.Pos.MapID,
		ChunkSize: h.maps.ChunkSize(),
		TileSize:  m.TileSize,
		Chunks:    make([]wire.ChunkPayload, 0, len(chunks)),
	}
	for _, c := range chunks {
		cp := wire.ChunkPayload{ChunkX: c.ChunkX, ChunkY: c.ChunkY}
		for _, l := range c.Layers {
			cp.Layers = append(cp.Layers, wire.ChunkLayerPayload{
				Name:      l.Name,
				Collision: l.Collision,
				Tiles:     l.Tiles,
			})
		}
		result.Chunks = append(result.Chunks, cp)
	}
	h.data(p.ID, msg.ID, result)
	return nil
}

// --- snapshot builders ---

func (h *Handler) inventorySnapshot(inv *world.Inventory) wire.InventorySnapshot {
	out := wire.InventorySnapshot{Capacity: len(inv.Slots), Slots: []wire.ItemStackPayload{}}
	for i, s := range inv.Slots {
		if s == nil {
			continue
		}
		out.Slots = append(out.Slots, h.stackPayload(i, s))
	}
	return out
}

func (h *Handler) equipmentSnapshot(eq *world.Equipment) wire.EquipmentSnapshot {
	out := wire.EquipmentSnapshot{Slots: make(map[string]wire.ItemStackPayload, len(eq.Slots))}
	for slot, s := range eq.Slots {
		out.Slots[slot] = h.stackPayload(0, s)
	}
	return out
}

func (h *Handler) stackPayload(slot int, s *world.ItemStack) wire.ItemStackPayload {
	name := ""
	if kind := h.items.Get(s.KindID); kind != nil {
		name = kind.Name
	}
	return wire.ItemStackPayload{
		Slot:       slot,
		KindID:     s.KindID,
		Name:       name,
		Quantity:   s.Quantity,
		Durability: s.Durability,
	}
}
