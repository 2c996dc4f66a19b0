package world

import (
	"sync/atomic"
	"time"
)

// EntityState is the AI state machine position of one entity instance.
type EntityState string

const (
	EntityIdle      EntityState = "idle"
	EntityWandering EntityState = "wandering"
	EntityAggro     EntityState = "aggro"
	EntityAttacking EntityState = "attacking"
	EntityDying     EntityState = "dying"
	EntityDead      EntityState = "dead"
)

var entitySeq atomic.Int64

// NextEntityID allocates a process-unique entity instance id.
func NextEntityID() int64 { return entitySeq.Add(1) }

// Entity is one live NPC/monster instance.
type Entity struct {
	ID     int64
	KindID int32
	Pos    Position

	SpawnPos       Position
	WanderRadius   int32
	AggroRange     int32
	DisengageRange int32

	HP    int32
	MaxHP int32
	State EntityState

	TargetPlayer   int64 // 0 = none
	LastAttackTick int64
	NextWanderTick int64
	WanderDest     Position

	DeathTick int64     // tick at which dying → dead
	RespawnAt time.Time // zero until killed
}

// Clone copies the instance.
func (e *Entity) Clone() *Entity {
	cp := *e
	return &cp
}

// Visible reports whether the entity appears in state updates. Dying
// entities stay visible through the death animation; dead ones are hidden.
func (e *Entity) Visible() bool { return e.State != EntityDead }

// Attackable reports whether the entity can currently be targeted. The kind
// flag is checked separately by the handler.
func (e *Entity) Attackable() bool {
	return e.State != EntityDying && e.State != EntityDead && e.HP > 0
}
