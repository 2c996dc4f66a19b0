package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/scripting"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// MeleeRange is the Chebyshev distance at which auto-attacks connect.
const MeleeRange = 1

// Resolver drives combat: tick-paced auto-attack swings for players and
// entities, damage application, XP awards, durability loss, death and
// respawn. All randomness flows through two injectable draws so tests can
// pin outcomes.
type Resolver struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	items    *data.ItemTable
	entities *data.EntityTable
	scripts  *scripting.Engine
	bcast    Broadcaster
	locks    *LockManager

	randFloat func() float64  // uniform [0,1)
	randInt   func(n int) int // uniform [0,n)

	respawnMu sync.Mutex
	// respawn deadlines keyed by player id; survives the player's session,
	// so a disconnect during the death timer still respawns the character.
	pendingRespawns map[int64]time.Time
}

func NewResolver(cfg *config.Config, st *store.Store, items *data.ItemTable, entities *data.EntityTable, scripts *scripting.Engine, bcast Broadcaster, locks *LockManager, log *zap.Logger) *Resolver {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	return &Resolver{
		cfg:      cfg,
		log:      log.Named("combat"),
		store:    st,
		items:    items,
		entities: entities,
		scripts:  scripts,
		bcast:    bcast,
		locks:    locks,
		randFloat: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return rng.Float64()
		},
		randInt: func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return rng.Intn(n)
		},
		pendingRespawns: make(map[int64]time.Time),
	}
}

// speedTicks converts an attack speed in seconds to whole ticks, minimum 1.
func (r *Resolver) speedTicks(speed float64) int64 {
	t := int64(speed * float64(r.cfg.Game.TickRate))
	if t < 1 {
		t = 1
	}
	return t
}

// playerStats assembles a player's combat stat block: skill levels plus
// equipment bonuses.
func (r *Resolver) playerStats(ctx context.Context, id int64) (scripting.CombatStats, error) {
	skills, err := r.store.GetSkills(ctx, id)
	if err != nil {
		return scripting.CombatStats{}, err
	}
	eq, err := r.store.GetEquipment(ctx, id)
	if err != nil {
		return scripting.CombatStats{}, err
	}
	atk, str, def := eq.Bonuses(r.items)
	return scripting.CombatStats{
		AttackLevel:   skills.Level(world.SkillAttack),
		AttackBonus:   atk,
		StrengthLevel: skills.Level(world.SkillStrength),
		StrengthBonus: str,
		DefenceLevel:  skills.Level(world.SkillDefence),
		DefenceBonus:  def,
	}, nil
}

func entityStats(kind *data.EntityKind) scripting.CombatStats {
	return scripting.CombatStats{
		AttackLevel:   kind.AttackLevel,
		AttackBonus:   kind.AttackBonus,
		StrengthLevel: kind.StrengthLevel,
		StrengthBonus: kind.StrengthBonus,
		DefenceLevel:  kind.DefenceLevel,
		DefenceBonus:  kind.DefenceBonus,
	}
}

// rollDamage draws one swing: hit/miss by hit chance, damage uniform in
// [0, max_hit] on a hit.
func (r *Resolver) rollDamage(p scripting.HitParams) (bool, int32) {
	if r.randFloat() >= p.HitChance {
		return false, 0
	}
	return true, int32(r.randInt(p.MaxHit + 1))
}

// ResolvePlayerAttacks runs one tick of player auto-attacks, in ascending
// player-id order. Players whose lock is held by a handler are skipped this
// tick; the swing fires on the next one.
func (r *Resolver) ResolvePlayerAttacks(ctx context.Context, tick int64, now time.Time) {
	for _, id := range r.store.OnlinePlayers() {
		if !r.locks.TryAcquire(id) {
			continue
		}
		r.resolveOnePlayer(ctx, tick, now, id)
		r.locks.Release(id)
	}
}

func (r *Resolver) resolveOnePlayer(ctx context.Context, tick int64, now time.Time, id int64) {
	st, err := r.store.GetPlayerState(ctx, id)
	if err != nil {
		r.log.Warn("attack tick: load player failed", zap.Int64("player", id), zap.Error(err))
		return
	}
	if st.Target == nil || !st.Alive() {
		return
	}
	if tick-st.LastAttackTick < r.speedTicks(r.attackSpeed(st)) {
		return
	}
	if st.Target.Kind != world.TargetEntity {
		// player targets are rejected at command time; a stale one is dropped
		r.clearTarget(ctx, id)
		return
	}
	target := r.store.GetEntity(st.Target.ID)
	if target == nil || !target.Attackable() {
		r.clearTarget(ctx, id)
		return
	}
	if world.Dist(st.Pos, target.Pos) > MeleeRange {
		// out of melee range: hold the target, swing when adjacent again
		return
	}
	r.swingPlayerVsEntity(ctx, tick, now, st, target)
}

func (r *Resolver) attackSpeed(st *world.PlayerState) float64 {
	if st.AttackSpeed > 0 {
		return st.AttackSpeed
	}
	return r.cfg.Combat.BaseAttackSpeed
}

func (r *Resolver) clearTarget(ctx context.Context, id int64) {
	err := r.store.UpdatePlayerState(ctx, id, func(st *world.PlayerState) error {
		st.Target = nil
		return nil
	})
	if err != nil {
		r.log.Warn("clear target failed", zap.Int64("player", id), zap.Error(err))
	}
}

// PlayerSwing resolves one player swing outside the tick cadence, for the
// attack command's immediate first hit. The caller holds the player's lock
// and has already validated range and target.
func (r *Resolver) PlayerSwing(ctx context.Context, tick int64, now time.Time, att *world.PlayerState, target *world.Entity) {
	r.swingPlayerVsEntity(ctx, tick, now, att, target)
}

func (r *Resolver) swingPlayerVsEntity(ctx context.Context, tick int64, now time.Time, att *world.PlayerState, target *world.Entity) {
	kind := r.entities.Get(target.KindID)
	if kind == nil {
		r.clearTarget(ctx, att.ID)
		return
	}
	attStats, err := r.playerStats(ctx, att.ID)
	if err != nil {
		r.log.Warn("attack stats failed", zap.Int64("player", att.ID), zap.Error(err))
		return
	}
	params, err := r.scripts.HitParams(attStats, entityStats(kind))
	if err != nil {
		r.log.Error("hit params failed", zap.Error(err))
		return
	}
	didHit, damage := r.rollDamage(params)

	var (
		hpAfter int32
		died    bool
	)
	found, err := r.store.UpdateEntity(ctx, target.ID, func(e *world.Entity) error {
		if e.HP > damage {
			e.HP -= damage
		} else {
			e.HP = 0
		}
		hpAfter = e.HP
		if e.HP == 0 {
			died = true
			e.State = world.EntityDying
			e.TargetPlayer = 0
			e.DeathTick = tick + r.cfg.Combat.DeathAnimTicks
			e.RespawnAt = now.Add(r.cfg.Combat.EntityRespawnDelay)
		} else if kind.Attackable && e.TargetPlayer == 0 {
			// retaliate against the first attacker
			e.TargetPlayer = att.ID
			if e.State == world.EntityIdle || e.State == world.EntityWandering {
				e.State = world.EntityAggro
			}
		}
		return nil
	})
	if err != nil || !found {
		return
	}

	if err := r.store.UpdatePlayerState(ctx, att.ID, func(st *world.PlayerState) error {
		st.LastAttackTick = tick
		if died {
			st.Target = nil
		}
		return nil
	}); err != nil {
		r.log.Warn("swing bookkeeping failed", zap.Int64("player", att.ID), zap.Error(err))
	}

	if didHit && damage > 0 {
		r.awardAttackXP(ctx, att.ID, damage)
		r.damageWeapon(ctx, att.ID)
	}

	r.broadcastCombat(att.Pos.MapID, wire.CombatActionPayload{
		Attacker:   wire.PlayerRef(att.ID),
		Defender:   wire.EntityRef(target.ID),
		DidHit:     didHit,
		Damage:     damage,
		DefenderHP: hpAfter,
		Died:       died,
	})
	if died {
		r.log.Info("entity killed",
			zap.Int64("entity", target.ID),
			zap.Int32("kind", target.KindID),
			zap.Int64("killer", att.ID))
	}
}

// SwingEntityVsPlayer fires one entity auto-attack at a player. Called by
// the AI system once range and cooldown have been checked. Defender XP is
// awarded on both outcomes: a dodge trains Defence, a damaging hit trains
// Hitpoints.
func (r *Resolver) SwingEntityVsPlayer(ctx context.Context, tick int64, now time.Time, e *world.Entity, playerID int64) {
	kind := r.entities.Get(e.KindID)
	if kind == nil {
		return
	}
	defStats, err := r.playerStats(ctx, playerID)
	if err != nil {
		return
	}
	params, err := r.scripts.HitParams(entityStats(kind), defStats)
	if err != nil {
		r.log.Error("hit params failed", zap.Error(err))
		return
	}
	didHit, damage := r.rollDamage(params)

	var (
		hpAfter int32
		died    bool
		mapID   int32
		deadPos world.Position
	)
	err = r.store.UpdatePlayerState(ctx, playerID, func(st *world.PlayerState) error {
		if !st.Alive() {
			return store.ErrPlayerNotFound
		}
		mapID = st.Pos.MapID
		deadPos = st.Pos
		if st.HP > damage {
			st.HP -= damage
		} else {
			st.HP = 0
		}
		hpAfter = st.HP
		if st.HP == 0 {
			died = true
			st.DeadUntil = now.Add(r.cfg.Game.DeathRespawnDelay)
			st.Target = nil
			st.Anim = "death"
		} else if st.Target == nil && st.AutoRetaliate() {
			st.Target = &world.CombatTarget{Kind: world.TargetEntity, ID: e.ID}
		}
		return nil
	})
	if err != nil {
		return
	}

	r.awardDefenceXP(ctx, playerID, damage, didHit)

	r.broadcastCombat(mapID, wire.CombatActionPayload{
		Attacker:   wire.EntityRef(e.ID),
		Defender:   wire.PlayerRef(playerID),
		DidHit:     didHit,
		Damage:     damage,
		DefenderHP: hpAfter,
		Died:       died,
	})
	if died {
		r.onPlayerDeath(ctx, now, playerID, deadPos)
	}

	if _, err := r.store.UpdateEntity(ctx, e.ID, func(ent *world.Entity) error {
		ent.LastAttackTick = tick
		if died {
			ent.TargetPlayer = 0
			if ent.State == world.EntityAttacking || ent.State == world.EntityAggro {
				ent.State = world.EntityIdle
			}
		}
		return nil
	}); err != nil {
		r.log.Warn("entity swing bookkeeping failed", zap.Int64("entity", e.ID), zap.Error(err))
	}
}

func (r *Resolver) awardAttackXP(ctx context.Context, id int64, damage int32) {
	atk, str, hp, err := r.scripts.AttackXP(damage)
	if err != nil {
		r.log.Error("attack xp failed", zap.Error(err))
		return
	}
	r.awardXP(ctx, id, map[world.SkillKind]int64{
		world.SkillAttack:    atk,
		world.SkillStrength:  str,
		world.SkillHitpoints: hp,
	})
}

func (r *Resolver) awardDefenceXP(ctx context.Context, id int64, damage int32, didHit bool) {
	def, hp, err := r.scripts.DefenceXP(damage, didHit)
	if err != nil {
		r.log.Error("defence xp failed", zap.Error(err))
		return
	}
	r.awardXP(ctx, id, map[world.SkillKind]int64{
		world.SkillDefence:   def,
		world.SkillHitpoints: hp,
	})
}

func (r *Resolver) awardXP(ctx context.Context, id int64, awards map[world.SkillKind]int64) {
	err := r.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		skills, err := tx.Skills(id)
		if err != nil {
			return err
		}
		changed := false
		for kind, xp := range awards {
			if xp <= 0 {
				continue
			}
			level, leveled := skills.AddXP(kind, xp, r.cfg.XPMultiplier)
			changed = true
			if leveled {
				r.log.Info("level up",
					zap.Int64("player", id),
					zap.String("skill", string(kind)),
					zap.Int("level", level))
				if kind == world.SkillHitpoints {
					st, err := tx.State(id)
					if err != nil {
						return err
					}
					st.MaxHP = int32(level)
					tx.SetState(st)
				}
			}
		}
		if changed {
			tx.SetSkills(id, skills)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("xp award failed", zap.Int64("player", id), zap.Error(err))
	}
}

// damageWeapon knocks one durability off the attacker's weapon after a
// damaging hit.
func (r *Resolver) damageWeapon(ctx context.Context, id int64) {
	err := r.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		eq, err := tx.Equipment(id)
		if err != nil {
			return err
		}
		if eq.DamageWeapon(r.items) {
			tx.SetEquipment(id, eq)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("weapon durability update failed", zap.Int64("player", id), zap.Error(err))
	}
}

// onPlayerDeath spills the player's inventory and worn equipment onto the
// death tile and starts the respawn timer. Drops keep the normal per-rarity
// protection window with the dead player as owner.
func (r *Resolver) onPlayerDeath(ctx context.Context, now time.Time, id int64, pos world.Position) {
	var dropped []*world.GroundItem
	spill := func(s *world.ItemStack) bool {
		kind := r.items.Get(s.KindID)
		if kind == nil {
			return false
		}
		dropped = append(dropped, &world.GroundItem{
			ID:         world.NextGroundItemID(),
			KindID:     s.KindID,
			Name:       kind.Name,
			Rarity:     kind.Rarity,
			Pos:        pos,
			Quantity:   s.Quantity,
			Durability: s.Durability,
			DroppedBy:  id,
			DroppedAt:  now,
			PublicAt:   now.Add(r.cfg.LootProtection(kind.Rarity)),
			DespawnAt:  now.Add(r.cfg.DespawnTime(kind.Rarity)),
		})
		return true
	}
	err := r.store.Atomic(ctx, func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(id)
		if err != nil {
			return err
		}
		eq, err := tx.Equipment(id)
		if err != nil {
			return err
		}
		dropped = dropped[:0]
		for slot, s := range inv.Slots {
			if s != nil && spill(s) {
				inv.Slots[slot] = nil
			}
		}
		for slot, s := range eq.Slots {
			if spill(s) {
				delete(eq.Slots, slot)
			}
		}
		tx.SetInventory(id, inv)
		tx.SetEquipment(id, eq)

		// unarmed again: swing speed and look no longer come from the gear
		st, err := tx.State(id)
		if err != nil {
			return err
		}
		st.AttackSpeed = eq.WeaponSpeed(r.items, r.cfg.Combat.BaseAttackSpeed)
		st.BumpVisual()
		tx.SetState(st)
		return nil
	})
	if err != nil {
		r.log.Error("death drop failed", zap.Int64("player", id), zap.Error(err))
		dropped = nil
	}
	for _, g := range dropped {
		r.store.AddGroundItem(g)
		r.broadcastGroundAdded(g)
	}

	r.respawnMu.Lock()
	r.pendingRespawns[id] = now.Add(r.cfg.Game.DeathRespawnDelay)
	r.respawnMu.Unlock()

	if frame, err := wire.EncodeEvent(wire.EventPlayerDied, wire.PlayerDiedPayload{
		PlayerID: id,
		Position: wire.PositionPayload{MapID: pos.MapID, X: pos.X, Y: pos.Y},
	}); err == nil {
		r.bcast.ToMap(pos.MapID, frame)
	}
	r.log.Info("player died", zap.Int64("player", id),
		zap.Int32("map", pos.MapID), zap.Int32("x", pos.X), zap.Int32("y", pos.Y))
}

// RespawnDuePlayers completes death timers that have elapsed. The timer is
// keyed by player id, not by session, so it fires even if the player
// disconnected while dead.
func (r *Resolver) RespawnDuePlayers(ctx context.Context, now time.Time) {
	r.respawnMu.Lock()
	var due []int64
	for id, at := range r.pendingRespawns {
		if !now.Before(at) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(r.pendingRespawns, id)
	}
	r.respawnMu.Unlock()

	spawn := world.Position{MapID: r.cfg.Game.Spawn.MapID, X: r.cfg.Game.Spawn.X, Y: r.cfg.Game.Spawn.Y}
	for _, id := range due {
		var hp, maxHP int32
		err := r.store.UpdatePlayerState(ctx, id, func(st *world.PlayerState) error {
			st.Pos = spawn
			st.HP = st.MaxHP
			st.DeadUntil = time.Time{}
			st.Anim = ""
			st.Facing = world.FaceDown
			st.Target = nil
			hp, maxHP = st.HP, st.MaxHP
			return nil
		})
		if err != nil {
			r.log.Warn("respawn failed", zap.Int64("player", id), zap.Error(err))
			continue
		}
		r.bcast.SetMap(id, spawn.MapID)
		if frame, err := wire.EncodeEvent(wire.EventPlayerRespawn, wire.PlayerRespawnPayload{
			PlayerID: id,
			Position: wire.PositionPayload{MapID: spawn.MapID, X: spawn.X, Y: spawn.Y},
			HP:       hp,
			MaxHP:    maxHP,
		}); err == nil {
			r.bcast.ToMap(spawn.MapID, frame)
		}
		r.log.Info("player respawned", zap.Int64("player", id))
	}
}

// PendingRespawn reports whether a death timer is running for the player.
func (r *Resolver) PendingRespawn(id int64) bool {
	r.respawnMu.Lock()
	defer r.respawnMu.Unlock()
	_, ok := r.pendingRespawns[id]
	return ok
}

func (r *Resolver) broadcastCombat(mapID int32, p wire.CombatActionPayload) {
	frame, err := wire.EncodeEvent(wire.EventCombatAction, p)
	if err != nil {
		r.log.Error("encode combat event failed", zap.Error(err))
		return
	}
	r.bcast.ToMap(mapID, frame)
}

func (r *Resolver) broadcastGroundAdded(g *world.GroundItem) {
	frame, err := wire.EncodeEvent(wire.EventGroundItemAdded, wire.GroundItemAddedPayload{
		ID:       g.ID,
		KindID:   g.KindID,
		Name:     g.Name,
		Rarity:   g.Rarity,
		X:        g.Pos.X,
		Y:        g.Pos.Y,
		Quantity: g.Quantity,
	})
	if err != nil {
		return
	}
	r.bcast.ToMap(g.Pos.MapID, frame)
}
