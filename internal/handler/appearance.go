package handler

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// Appearance limits. Keys and values are free-form client cosmetics; the
// server only bounds them.
const (
	maxAppearanceEntries  = 16
	maxAppearanceKeyLen   = 32
	maxAppearanceValueLen = 64
)

// handleSetAppearance updates the player's cosmetics in the hot state and
// durably, and bumps the visual hash so other clients re-render the sprite.
func (h *Handler) handleSetAppearance(ctx context.Context, p player, msg wire.Message) error {
	var req wire.SetAppearancePayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	if len(req.Appearance) > maxAppearanceEntries {
		return wire.Validation(wire.CodeAppearanceInvalid, "too many appearance entries")
	}
	for k, v := range req.Appearance {
		if k == "" || utf8.RuneCountInString(k) > maxAppearanceKeyLen || utf8.RuneCountInString(v) > maxAppearanceValueLen {
			return wire.Validation(wire.CodeAppearanceInvalid, "appearance entry out of bounds")
		}
	}

	err := h.store.UpdatePlayerState(ctx, p.ID, func(st *world.PlayerState) error {
		st.Appearance = req.Appearance
		st.BumpVisual()
		return nil
	})
	if err != nil {
		return err
	}
	if err := h.accounts.UpdateAppearance(ctx, p.ID, req.Appearance); err != nil {
		// hot state already changed; durable catches up with the next write
		h.log.Warn("persist appearance failed", zap.Int64("player", p.ID), zap.Error(err))
	}
	h.success(p.ID, msg.ID)
	return nil
}
