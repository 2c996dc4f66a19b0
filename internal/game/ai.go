package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/world"
)

// AI advances every entity's state machine one tick:
//
//	idle → wandering     on the wander cadence
//	idle/wandering → aggro   aggressive kind sees a player in aggro range
//	aggro → attacking    adjacent to the target
//	attacking → aggro    target stepped out of melee range
//	aggro/attacking → wandering (home)   target gone or beyond disengage range
//
// Dying and dead entities are owned by the lifecycle system, not the AI.
// Only maps with at least one online player are simulated.
type AI struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	maps     *data.Service
	entities *data.EntityTable
	bcast    Broadcaster
	resolver *Resolver
	locks    *LockManager

	randInt func(n int) int
}

func NewAI(cfg *config.Config, st *store.Store, maps *data.Service, entities *data.EntityTable, bcast Broadcaster, resolver *Resolver, locks *LockManager, log *zap.Logger) *AI {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	return &AI{
		cfg:      cfg,
		log:      log.Named("ai"),
		store:    st,
		maps:     maps,
		entities: entities,
		bcast:    bcast,
		resolver: resolver,
		locks:    locks,
		randInt: func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return rng.Intn(n)
		},
	}
}

// moveTicks is the pace of one entity step, matched to the player move
// cooldown so pursuit cannot outrun fleeing players.
func (a *AI) moveTicks() int64 {
	t := int64(a.cfg.Game.MoveCooldown / a.cfg.TickPeriod())
	if t < 1 {
		t = 1
	}
	return t
}

// Update runs one AI tick over every populated map.
func (a *AI) Update(ctx context.Context, tick int64, now time.Time) {
	for _, mapID := range a.bcast.OnlineMaps() {
		m := a.maps.Get(mapID)
		if m == nil {
			continue
		}
		for _, e := range a.store.EntitiesOnMap(mapID) {
			switch e.State {
			case world.EntityDying, world.EntityDead:
				continue
			}
			a.updateEntity(ctx, tick, now, m, e)
		}
	}
}

func (a *AI) updateEntity(ctx context.Context, tick int64, now time.Time, m *data.Map, e *world.Entity) {
	kind := a.entities.Get(e.KindID)
	if kind == nil {
		return
	}

	// Target upkeep: acquire, validate, disengage.
	targetID := e.TargetPlayer
	var target *world.PlayerState
	if targetID != 0 {
		target = a.loadTarget(ctx, targetID)
		if target == nil || target.Pos.MapID != e.Pos.MapID ||
			world.Dist(e.Pos, target.Pos) > e.DisengageRange {
			a.mutate(ctx, e, func(ent *world.Entity) {
				ent.TargetPlayer = 0
				ent.State = world.EntityWandering
				ent.WanderDest = ent.SpawnPos
			})
			return
		}
	} else if kind.Aggressive {
		if t := a.findAggroTarget(ctx, e); t != nil {
			target = t
			a.mutate(ctx, e, func(ent *world.Entity) {
				ent.TargetPlayer = t.ID
				ent.State = world.EntityAggro
			})
		}
	}

	if target != nil {
		a.pursue(ctx, tick, now, m, e, kind, target)
		return
	}

	switch e.State {
	case world.EntityIdle:
		if kind.WanderTicks > 0 && e.WanderRadius > 0 && tick >= e.NextWanderTick {
			dest := a.pickWanderDest(m, e)
			a.mutate(ctx, e, func(ent *world.Entity) {
				ent.State = world.EntityWandering
				ent.WanderDest = dest
				ent.NextWanderTick = tick
			})
		}
	case world.EntityWandering:
		a.stepWander(ctx, tick, m, e, kind)
	default:
		// aggro/attacking with no live target settles back down
		a.mutate(ctx, e, func(ent *world.Entity) { ent.State = world.EntityIdle })
	}
}

func (a *AI) loadTarget(ctx context.Context, id int64) *world.PlayerState {
	online := false
	for _, p := range a.store.OnlinePlayers() {
		if p == id {
			online = true
			break
		}
	}
	if !online {
		return nil
	}
	st, err := a.store.GetPlayerState(ctx, id)
	if err != nil || !st.Alive() {
		return nil
	}
	return st
}

// findAggroTarget picks the nearest alive player inside aggro range.
func (a *AI) findAggroTarget(ctx context.Context, e *world.Entity) *world.PlayerState {
	var best *world.PlayerState
	var bestDist int32
	for _, id := range a.bcast.PlayersOnMap(e.Pos.MapID) {
		st, err := a.store.GetPlayerState(ctx, id)
		if err != nil || !st.Alive() {
			continue
		}
		d := world.Dist(e.Pos, st.Pos)
		if d > e.AggroRange {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = st, d
		}
	}
	return best
}

func (a *AI) pursue(ctx context.Context, tick int64, now time.Time, m *data.Map, e *world.Entity, kind *data.EntityKind, target *world.PlayerState) {
	if world.Dist(e.Pos, target.Pos) <= MeleeRange {
		a.mutate(ctx, e, func(ent *world.Entity) { ent.State = world.EntityAttacking })
		if tick-e.LastAttackTick >= a.resolver.speedTicks(kind.AttackSpeed) {
			if a.locks.TryAcquire(target.ID) {
				a.resolver.SwingEntityVsPlayer(ctx, tick, now, e, target.ID)
				a.locks.Release(target.ID)
			}
		}
		return
	}
	// chase, one step per move interval
	if tick < e.NextWanderTick {
		return
	}
	next := world.StepToward(e.Pos, target.Pos)
	if !m.Walkable(next.X, next.Y) {
		return
	}
	moveAt := tick + a.moveTicks()
	a.mutate(ctx, e, func(ent *world.Entity) {
		ent.State = world.EntityAggro
		ent.Pos = next
		ent.NextWanderTick = moveAt
	})
}

// stepWander walks one tile toward the wander destination on the move
// cadence. NextWanderTick doubles as the step pacer while moving and as the
// next-wander deadline once the entity settles.
func (a *AI) stepWander(ctx context.Context, tick int64, m *data.Map, e *world.Entity, kind *data.EntityKind) {
	if e.Pos == e.WanderDest {
		a.mutate(ctx, e, func(ent *world.Entity) {
			ent.State = world.EntityIdle
			ent.NextWanderTick = tick + kind.WanderTicks
		})
		return
	}
	if tick < e.NextWanderTick {
		return
	}
	next := world.StepToward(e.Pos, e.WanderDest)
	if !m.Walkable(next.X, next.Y) {
		a.mutate(ctx, e, func(ent *world.Entity) {
			ent.State = world.EntityIdle
			ent.NextWanderTick = tick + kind.WanderTicks
		})
		return
	}
	moveAt := tick + a.moveTicks()
	a.mutate(ctx, e, func(ent *world.Entity) {
		ent.Pos = next
		ent.NextWanderTick = moveAt
	})
}

// pickWanderDest draws a walkable tile inside the wander radius around the
// spawn point, falling back to the spawn tile.
func (a *AI) pickWanderDest(m *data.Map, e *world.Entity) world.Position {
	r := int(e.WanderRadius)
	for attempt := 0; attempt < 8; attempt++ {
		dx := int32(a.randInt(2*r+1) - r)
		dy := int32(a.randInt(2*r+1) - r)
		dest := world.Position{MapID: e.SpawnPos.MapID, X: e.SpawnPos.X + dx, Y: e.SpawnPos.Y + dy}
		if m.Walkable(dest.X, dest.Y) {
			return dest
		}
	}
	return e.SpawnPos
}

func (a *AI) mutate(ctx context.Context, e *world.Entity, fn func(*world.Entity)) {
	found, err := a.store.UpdateEntity(ctx, e.ID, func(ent *world.Entity) error {
		fn(ent)
		return nil
	})
	if err != nil || !found {
		return
	}
	fn(e) // keep the local snapshot in step
}
