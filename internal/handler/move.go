package handler

import (
	"context"

	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// handleMove steps the player one tile. The action cooldown is the grid's
// movement pace; collisions and bad directions consume it too, which keeps a
// client from probing walls faster than it could walk.
func (h *Handler) handleMove(ctx context.Context, p player, msg wire.Message) error {
	var req wire.MovePayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	if remaining, ok := h.limiter.Allow(p.ID, opMove, h.cfg.Game.MoveCooldown); !ok {
		return wire.RateLimited(wire.CodeMoveRateLimited, "moving too fast", remaining)
	}

	var result wire.MoveResult
	err := h.store.UpdatePlayerState(ctx, p.ID, func(st *world.PlayerState) error {
		if !st.Alive() {
			return wire.Validation(wire.CodePlayerDead, "dead players cannot move")
		}
		next, ok := world.Step(st.Pos, req.Direction)
		if !ok {
			return wire.Validation(wire.CodeMoveInvalidDirection, "unknown direction "+req.Direction)
		}
		m := h.maps.Get(st.Pos.MapID)
		if m == nil || !m.Walkable(next.X, next.Y) {
			return wire.Validation(wire.CodeMoveCollisionDetected, "tile is blocked")
		}
		st.Pos = next
		st.Facing = req.Direction
		st.LastMove = h.clock()
		result = wire.MoveResult{Position: positionPayload(next), Facing: req.Direction}
		return nil
	})
	if err != nil {
		return err
	}
	h.data(p.ID, msg.ID, result)
	return nil
}
