package world

import "time"

// Player roles.
const (
	RolePlayer    = "player"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Privileged reports whether role bypasses the capacity gate.
func Privileged(role string) bool {
	return role == RoleModerator || role == RoleAdmin
}

// PlayerRecord is the durable identity row.
type PlayerRecord struct {
	ID             int64
	Username       string
	HashedPassword string
	Role           string
	Banned         bool
	TimeoutUntil   *time.Time
	Pos            Position
	HP             int32
	Appearance     map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TimedOut reports whether the record carries an active timeout.
func (r *PlayerRecord) TimedOut(now time.Time) bool {
	return r.TimeoutUntil != nil && now.Before(*r.TimeoutUntil)
}

// TargetKind discriminates combat targets.
type TargetKind string

const (
	TargetPlayer TargetKind = "player"
	TargetEntity TargetKind = "entity"
)

// CombatTarget is a weak reference to whatever a combatant is attacking.
type CombatTarget struct {
	Kind TargetKind
	ID   int64
}

// PlayerState is the hot runtime state of one player. Values are copied in
// and out of the hot-state store; nothing outside the store holds a live
// pointer.
type PlayerState struct {
	ID       int64
	Username string
	Role     string

	Online bool
	Pos    Position
	HP     int32
	MaxHP  int32
	Facing string
	Anim   string

	LastMove       time.Time
	Target         *CombatTarget // nil = not in combat
	LastAttackTick int64
	AttackSpeed    float64 // seconds between auto-attacks

	DeadUntil time.Time // zero = alive

	Settings   map[string]bool
	Appearance map[string]string
	VisualHash uint32
}

// Setting names.
const SettingAutoRetaliate = "auto_retaliate"

// Alive reports whether the player can act.
func (p *PlayerState) Alive() bool { return p.HP > 0 && p.DeadUntil.IsZero() }

// InCombat reports whether the player has a combat target.
func (p *PlayerState) InCombat() bool { return p.Target != nil }

// AutoRetaliate reads the auto_retaliate setting (default true).
func (p *PlayerState) AutoRetaliate() bool {
	if v, ok := p.Settings[SettingAutoRetaliate]; ok {
		return v
	}
	return true
}

// Clone deep-copies the state so store callers cannot alias cache memory.
func (p *PlayerState) Clone() *PlayerState {
	cp := *p
	if p.Target != nil {
		t := *p.Target
		cp.Target = &t
	}
	if p.Settings != nil {
		cp.Settings = make(map[string]bool, len(p.Settings))
		for k, v := range p.Settings {
			cp.Settings[k] = v
		}
	}
	if p.Appearance != nil {
		cp.Appearance = make(map[string]string, len(p.Appearance))
		for k, v := range p.Appearance {
			cp.Appearance[k] = v
		}
	}
	return &cp
}

// BumpVisual advances the visual hash after an appearance change so clients
// re-render the sprite.
func (p *PlayerState) BumpVisual() { p.VisualHash++ }
