package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/auth"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// Admin actions. Moderators get the player-management subset; ban and grant
// stay admin-only.
const (
	AdminTeleport = "teleport"
	AdminKick     = "kick"
	AdminBan      = "ban"
	AdminUnban    = "unban"
	AdminTimeout  = "timeout"
	AdminHeal     = "heal"
	AdminGrant    = "grant"
)

// handleAdmin runs role-gated commands. Every action is audit-logged with
// the acting account.
func (h *Handler) handleAdmin(ctx context.Context, p player, msg wire.Message) error {
	if !world.Privileged(p.Role) {
		return wire.Auth(wire.CodeAdminForbidden, "insufficient privileges")
	}
	var req wire.AdminPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}

	var err error
	switch req.Action {
	case AdminTeleport:
		err = h.adminTeleport(ctx, p, req)
	case AdminKick:
		err = h.adminKick(req)
	case AdminBan, AdminUnban:
		if p.Role != world.RoleAdmin {
			return wire.Auth(wire.CodeAdminForbidden, "ban requires the admin role")
		}
		err = h.adminSetBanned(ctx, req, req.Action == AdminBan)
	case AdminTimeout:
		err = h.adminTimeout(ctx, req)
	case AdminHeal:
		err = h.adminHeal(ctx, req)
	case AdminGrant:
		if p.Role != world.RoleAdmin {
			return wire.Auth(wire.CodeAdminForbidden, "grant requires the admin role")
		}
		err = h.adminGrant(ctx, req)
	default:
		return wire.Validation(wire.CodeAdminInvalidAction, "unknown admin action "+req.Action)
	}
	if err != nil {
		return err
	}

	h.log.Info("admin action",
		zap.String("by", p.Username),
		zap.String("action", req.Action),
		zap.String("target", req.Target),
		zap.String("reason", req.Reason))
	h.success(p.ID, msg.ID)
	return nil
}

// resolveTarget maps a username to a player id: live session first, then the
// durable account for offline players.
func (h *Handler) resolveTarget(ctx context.Context, username string) (int64, error) {
	name, err := auth.NormalizeUsername(username)
	if err != nil {
		return 0, wire.Validation(wire.CodeAdminUnknownTarget, "unknown player "+username)
	}
	if id, ok := h.sessions.LookupID(name); ok {
		return id, nil
	}
	rec, err := h.accounts.GetByUsername(ctx, name)
	if err != nil {
		return 0, wire.Validation(wire.CodeAdminUnknownTarget, "unknown player "+username)
	}
	return rec.ID, nil
}

func (h *Handler) adminTeleport(ctx context.Context, p player, req wire.AdminPayload) error {
	targetID := p.ID
	if req.Target != "" {
		id, err := h.resolveTarget(ctx, req.Target)
		if err != nil {
			return err
		}
		targetID = id
	}
	m := h.maps.Get(req.MapID)
	if m == nil || !m.Walkable(req.X, req.Y) {
		return wire.Validation(wire.CodeMapInvalidCoords, "destination is not walkable")
	}
	dest := world.Position{MapID: req.MapID, X: req.X, Y: req.Y}
	err := h.store.UpdatePlayerState(ctx, targetID, func(st *world.PlayerState) error {
		st.Pos = dest
		st.Target = nil
		return nil
	})
	if err != nil {
		return err
	}
	// re-home the session and drop the visibility baseline so the next tick
	// sends a full view of the destination
	h.sessions.SetMap(targetID, dest.MapID)
	h.vis.Remove(targetID)
	return nil
}

func (h *Handler) adminKick(req wire.AdminPayload) error {
	name, err := auth.NormalizeUsername(req.Target)
	if err != nil {
		return wire.Validation(wire.CodeAdminUnknownTarget, "unknown player "+req.Target)
	}
	id, ok := h.sessions.LookupID(name)
	if !ok {
		return wire.Validation(wire.CodeAdminUnknownTarget, "player is not online")
	}
	h.sessions.Kick(id)
	return nil
}

func (h *Handler) adminSetBanned(ctx context.Context, req wire.AdminPayload, banned bool) error {
	id, err := h.resolveTarget(ctx, req.Target)
	if err != nil {
		return err
	}
	if err := h.accounts.SetBanned(ctx, id, banned); err != nil {
		return err
	}
	if banned {
		h.sessions.Kick(id)
	}
	return nil
}

func (h *Handler) adminTimeout(ctx context.Context, req wire.AdminPayload) error {
	if req.Minutes <= 0 {
		return wire.Validation(wire.CodeAdminInvalidAction, "timeout needs a positive minute count")
	}
	id, err := h.resolveTarget(ctx, req.Target)
	if err != nil {
		return err
	}
	until := h.clock().Add(time.Duration(req.Minutes) * time.Minute)
	if err := h.accounts.SetTimeout(ctx, id, &until); err != nil {
		return err
	}
	h.sessions.Kick(id)
	return nil
}

func (h *Handler) adminHeal(ctx context.Context, req wire.AdminPayload) error {
	id, err := h.resolveTarget(ctx, req.Target)
	if err != nil {
		return err
	}
	return h.store.UpdatePlayerState(ctx, id, func(st *world.PlayerState) error {
		st.HP = st.MaxHP
		return nil
	})
}

func (h *Handler) adminGrant(ctx context.Context, req wire.AdminPayload) error {
	id, err := h.resolveTarget(ctx, req.Target)
	if err != nil {
		return err
	}
	kind := h.items.Get(req.ItemKind)
	if kind == nil {
		return wire.Validation(wire.CodeAdminInvalidAction, "unknown item kind")
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	stack := world.ItemStack{KindID: kind.ID, Quantity: qty, Durability: kind.MaxDurability}
	return h.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(id)
		if err != nil {
			return err
		}
		if err := inv.Add(stack, h.items); err != nil {
			return invError(err)
		}
		tx.SetInventory(id, inv)
		return nil
	})
}
