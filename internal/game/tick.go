package game

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseAI         Phase = iota // entity state machines and swings
	PhaseCombat                  // player auto-attacks
	PhaseGround                  // ground item despawn sweep
	PhaseLifecycle               // death animations, entity and player respawn
	PhaseVisibility              // per-player state diffs out the door
)

// System is one unit of per-tick work.
type System interface {
	Phase() Phase
	Update(ctx context.Context, tick int64, now time.Time)
}

// Loop drives the fixed-rate simulation. Systems run in phase order; ties
// keep registration order.
type Loop struct {
	cfg     *config.Config
	log     *zap.Logger
	clock   func() time.Time
	systems []System
	sorted  bool
	tick    int64
}

func NewLoop(cfg *config.Config, log *zap.Logger, clock func() time.Time) *Loop {
	if clock == nil {
		clock = time.Now
	}
	return &Loop{
		cfg:     cfg,
		log:     log.Named("tick"),
		clock:   clock,
		systems: make([]System, 0, 8),
	}
}

func (l *Loop) Register(s System) {
	l.systems = append(l.systems, s)
	l.sorted = false
}

// Tick returns the current tick counter.
func (l *Loop) Tick() int64 { return l.tick }

// Step runs exactly one tick. Exposed so tests can drive the loop by hand.
func (l *Loop) Step(ctx context.Context) {
	if !l.sorted {
		sort.SliceStable(l.systems, func(i, j int) bool {
			return l.systems[i].Phase() < l.systems[j].Phase()
		})
		l.sorted = true
	}
	l.tick++
	now := l.clock()
	for _, s := range l.systems {
		s.Update(ctx, l.tick, now)
	}
}

// Run ticks at the configured rate until ctx is cancelled. A tick that takes
// longer than the period is logged and the next one starts immediately; the
// loop never tries to catch up by running ticks back to back.
func (l *Loop) Run(ctx context.Context) {
	period := l.cfg.TickPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	l.log.Info("tick loop started",
		zap.Int("rate", l.cfg.Game.TickRate),
		zap.Duration("period", period))
	for {
		select {
		case <-ctx.Done():
			l.log.Info("tick loop stopped", zap.Int64("ticks", l.tick))
			return
		case <-ticker.C:
			start := l.clock()
			l.Step(ctx)
			if elapsed := l.clock().Sub(start); elapsed > period {
				l.log.Warn("tick overrun",
					zap.Int64("tick", l.tick),
					zap.Duration("elapsed", elapsed),
					zap.Duration("period", period))
			}
		}
	}
}

// --- Systems ---

// AISystem adapts AI to the loop.
type AISystem struct{ AI *AI }

func (s AISystem) Phase() Phase { return PhaseAI }
func (s AISystem) Update(ctx context.Context, tick int64, now time.Time) {
	s.AI.Update(ctx, tick, now)
}

// CombatSystem runs player auto-attacks.
type CombatSystem struct{ Resolver *Resolver }

func (s CombatSystem) Phase() Phase { return PhaseCombat }
func (s CombatSystem) Update(ctx context.Context, tick int64, now time.Time) {
	s.Resolver.ResolvePlayerAttacks(ctx, tick, now)
}

// GroundSystem sweeps expired ground items off every map that has any.
type GroundSystem struct {
	Store *store.Store
	Bcast Broadcaster
}

func (s GroundSystem) Phase() Phase { return PhaseGround }

func (s GroundSystem) Update(ctx context.Context, tick int64, now time.Time) {
	for _, mapID := range s.Store.MapsWithGroundItems() {
		for _, g := range s.Store.GroundItemsOnMap(mapID) {
			if !g.Expired(now) {
				continue
			}
			if s.Store.RemoveGroundItem(g.ID) == nil {
				continue
			}
			if frame, err := wire.EncodeEvent(wire.EventGroundItemRemoved, wire.GroundItemRemovedPayload{ID: g.ID}); err == nil {
				s.Bcast.ToMap(mapID, frame)
			}
		}
	}
}

// LifecycleSystem finishes death animations and runs respawn timers for both
// entities and players. It covers every loaded map, so a monster killed just
// before its map emptied still completes its cycle.
type LifecycleSystem struct {
	Store    *store.Store
	Maps     *data.Service
	Resolver *Resolver
}

func (s LifecycleSystem) Phase() Phase { return PhaseLifecycle }

func (s LifecycleSystem) Update(ctx context.Context, tick int64, now time.Time) {
	for _, mapID := range s.Maps.IDs() {
		for _, e := range s.Store.EntitiesOnMap(mapID) {
			switch e.State {
			case world.EntityDying:
				if tick >= e.DeathTick {
					s.Store.UpdateEntity(ctx, e.ID, func(ent *world.Entity) error {
						ent.State = world.EntityDead
						return nil
					})
				}
			case world.EntityDead:
				if !now.Before(e.RespawnAt) {
					s.Store.UpdateEntity(ctx, e.ID, func(ent *world.Entity) error {
						ent.Pos = ent.SpawnPos
						ent.HP = ent.MaxHP
						ent.State = world.EntityIdle
						ent.TargetPlayer = 0
						ent.DeathTick = 0
						ent.RespawnAt = time.Time{}
						ent.NextWanderTick = tick
						return nil
					})
				}
			}
		}
	}
	s.Resolver.RespawnDuePlayers(ctx, now)
}

// VisibilitySystem builds each online player's view of their map, diffs it
// against the last sent view and emits EVENT_STATE_UPDATE deltas. Players
// are processed in ascending id order for deterministic emission.
type VisibilitySystem struct {
	Cfg      *config.Config
	Store    *store.Store
	Entities *data.EntityTable
	Vis      *Visibility
	Bcast    Broadcaster
	Log      *zap.Logger
}

func (s VisibilitySystem) Phase() Phase { return PhaseVisibility }

func (s VisibilitySystem) Update(ctx context.Context, tick int64, now time.Time) {
	for _, mapID := range s.Bcast.OnlineMaps() {
		playerIDs := s.Bcast.PlayersOnMap(mapID)

		// one shared per-map snapshot, filtered per player below
		players := make([]*world.PlayerState, 0, len(playerIDs))
		for _, id := range playerIDs {
			st, err := s.Store.GetPlayerState(ctx, id)
			if err != nil {
				continue
			}
			players = append(players, st)
		}
		entities := s.Store.EntitiesOnMap(mapID)
		ground := s.Store.GroundItemsOnMap(mapID)

		for _, viewer := range players {
			snapshot := s.buildView(viewer, players, entities, ground, now)
			changed, removed, err := s.Vis.Diff(viewer.ID, snapshot)
			if err != nil {
				s.Log.Error("visibility diff failed", zap.Int64("player", viewer.ID), zap.Error(err))
				continue
			}
			if len(changed) == 0 && len(removed) == 0 {
				continue
			}
			frame, err := wire.EncodeEvent(wire.EventStateUpdate, wire.StateUpdatePayload{
				Entities:        changed,
				RemovedEntities: removed,
				MapID:           mapID,
			})
			if err != nil {
				s.Log.Error("encode state update failed", zap.Error(err))
				continue
			}
			s.Bcast.ToPlayer(viewer.ID, frame)
		}
	}
}

func (s VisibilitySystem) buildView(viewer *world.PlayerState, players []*world.PlayerState, entities []*world.Entity, ground []*world.GroundItem, now time.Time) []wire.EntityPayload {
	return BuildView(s.Cfg.Visibility.TileRadius, s.Entities, viewer, players, entities, ground, now)
}

// BuildView renders everything on screen for one viewer into state-update
// entries: players and visible entities within the radius plus ground items
// the viewer may see. The connect flow uses it for the one-shot initial
// snapshot; the visibility system uses it every tick.
func BuildView(radius int32, kinds *data.EntityTable, viewer *world.PlayerState, players []*world.PlayerState, entities []*world.Entity, ground []*world.GroundItem, now time.Time) []wire.EntityPayload {
	var out []wire.EntityPayload
	for _, p := range players {
		if world.Dist(viewer.Pos, p.Pos) > radius {
			continue
		}
		out = append(out, PlayerPayload(p))
	}
	for _, e := range entities {
		if !e.Visible() || world.Dist(viewer.Pos, e.Pos) > radius {
			continue
		}
		kind := kinds.Get(e.KindID)
		if kind == nil {
			continue
		}
		out = append(out, EntityEntryPayload(e, kind))
	}
	for _, g := range ground {
		if world.Dist(viewer.Pos, g.Pos) > radius || !g.VisibleTo(viewer.ID, now) {
			continue
		}
		out = append(out, GroundItemPayload(g))
	}
	return out
}

// PlayerPayload renders a player into a state-update entry.
func PlayerPayload(p *world.PlayerState) wire.EntityPayload {
	state := "alive"
	if !p.Alive() {
		state = "dead"
	}
	return wire.EntityPayload{
		ID:         wire.PlayerRef(p.ID),
		Kind:       "player",
		Name:       p.Username,
		X:          p.Pos.X,
		Y:          p.Pos.Y,
		HP:         p.HP,
		MaxHP:      p.MaxHP,
		State:      state,
		Facing:     p.Facing,
		Anim:       p.Anim,
		Cosmetics:  p.Appearance,
		VisualHash: p.VisualHash,
	}
}

// EntityEntryPayload renders an entity into a state-update entry.
func EntityEntryPayload(e *world.Entity, kind *data.EntityKind) wire.EntityPayload {
	return wire.EntityPayload{
		ID:         wire.EntityRef(e.ID),
		Kind:       "entity",
		KindID:     e.KindID,
		Name:       kind.Name,
		X:          e.Pos.X,
		Y:          e.Pos.Y,
		HP:         e.HP,
		MaxHP:      e.MaxHP,
		State:      string(e.State),
		Attackable: kind.Attackable && e.Attackable(),
		Cosmetics:  kind.Cosmetics,
	}
}

// GroundItemPayload renders a ground item into a state-update entry.
func GroundItemPayload(g *world.GroundItem) wire.EntityPayload {
	return wire.EntityPayload{
		ID:       wire.GroundItemRef(g.ID),
		Kind:     "ground_item",
		KindID:   g.KindID,
		Name:     g.DisplayName(),
		X:        g.Pos.X,
		Y:        g.Pos.Y,
		Quantity: g.Quantity,
	}
}
