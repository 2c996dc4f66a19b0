package handler

import (
	"context"

	"github.com/tilemud/server/internal/game"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// handleAttack validates a melee attack, resolves the first swing on the
// spot and sets the combat target. Subsequent swings run on the combat
// system's tick cadence.
func (h *Handler) handleAttack(ctx context.Context, p player, msg wire.Message) error {
	var req wire.AttackPayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	if req.TargetType == string(world.TargetPlayer) {
		return wire.Validation(wire.CodeCombatInvalidTarget, "player versus player combat is disabled")
	}
	if req.TargetType != string(world.TargetEntity) {
		return wire.Validation(wire.CodeCombatInvalidTarget, "unknown target type "+req.TargetType)
	}
	if remaining, ok := h.limiter.Allow(p.ID, opAttack, h.cfg.Combat.AttackCooldown); !ok {
		return wire.RateLimited(wire.CodeCombatRateLimited, "attacking too fast", remaining)
	}

	target := h.store.GetEntity(req.TargetID)
	if target == nil || !target.Attackable() {
		return wire.Validation(wire.CodeCombatInvalidTarget, "target cannot be attacked")
	}
	kind := h.entities.Get(target.KindID)
	if kind == nil || !kind.Attackable {
		return wire.Validation(wire.CodeCombatInvalidTarget, "target cannot be attacked")
	}

	eq, err := h.store.GetEquipment(ctx, p.ID)
	if err != nil {
		return err
	}
	speed := eq.WeaponSpeed(h.items, h.cfg.Combat.BaseAttackSpeed)

	var st *world.PlayerState
	err = h.store.UpdatePlayerState(ctx, p.ID, func(s *world.PlayerState) error {
		if !s.Alive() {
			return wire.Validation(wire.CodeCombatAttackerDead, "dead players cannot attack")
		}
		if world.Dist(s.Pos, target.Pos) > game.MeleeRange {
			return wire.Validation(wire.CodeCombatOutOfRange, "target is too far away")
		}
		s.Target = &world.CombatTarget{Kind: world.TargetEntity, ID: target.ID}
		s.AttackSpeed = speed
		st = s.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	// first swing lands now; the swing drops the target again if it kills
	h.combat.PlayerSwing(ctx, h.tick(), h.clock(), st, target)
	h.success(p.ID, msg.ID)
	return nil
}

func (h *Handler) handleToggleAutoRetaliate(ctx context.Context, p player, msg wire.Message) error {
	var req wire.ToggleAutoRetaliatePayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	err := h.store.UpdatePlayerState(ctx, p.ID, func(st *world.PlayerState) error {
		if st.Settings == nil {
			st.Settings = make(map[string]bool)
		}
		st.Settings[world.SettingAutoRetaliate] = req.Enabled
		return nil
	})
	if err != nil {
		return err
	}
	h.success(p.ID, msg.ID)
	return nil
}
