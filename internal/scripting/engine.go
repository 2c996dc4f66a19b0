// Package scripting embeds the Lua combat formulas. Tuning hit chance, max
// hit and XP awards means editing scripts/combat.lua, not recompiling.
package scripting

import (
	"embed"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

//go:embed scripts/*.lua
var scripts embed.FS

// CombatStats is the stat block the formulas consume, already including
// equipment bonuses.
type CombatStats struct {
	AttackLevel   int
	AttackBonus   int
	StrengthLevel int
	StrengthBonus int
	DefenceLevel  int
	DefenceBonus  int
}

// HitParams are the parameters of one attack's random draw.
type HitParams struct {
	AttackRoll  float64
	DefenceRoll float64
	HitChance   float64 // clamped to [0.05, 0.95]
	MaxHit      int
}

// Engine hosts one Lua VM. gopher-lua states are not goroutine-safe, and
// handlers call in concurrently, so every call is serialized on a mutex.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

func NewEngine(log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	src, err := scripts.ReadFile("scripts/combat.lua")
	if err != nil {
		vm.Close()
		return nil, fmt.Errorf("read combat script: %w", err)
	}
	if err := vm.DoString(string(src)); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load combat script: %w", err)
	}
	return &Engine{vm: vm, log: log.Named("scripting")}, nil
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// call invokes a global Lua function with one argument table and returns the
// result table.
func (e *Engine) call(fn string, arg *lua.LTable) (*lua.LTable, error) {
	if err := e.vm.CallByParam(lua.P{
		Fn:      e.vm.GetGlobal(fn),
		NRet:    1,
		Protect: true,
	}, arg); err != nil {
		return nil, fmt.Errorf("lua %s: %w", fn, err)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua %s: expected table result, got %s", fn, ret.Type())
	}
	return tbl, nil
}

func tableNumber(t *lua.LTable, key string) float64 {
	if v, ok := t.RawGetString(key).(lua.LNumber); ok {
		return float64(v)
	}
	return 0
}

// HitParams computes the attack parameters for one attacker/defender pair.
func (e *Engine) HitParams(att, def CombatStats) (HitParams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arg := e.vm.NewTable()
	arg.RawSetString("attack_level", lua.LNumber(att.AttackLevel))
	arg.RawSetString("attack_bonus", lua.LNumber(att.AttackBonus))
	arg.RawSetString("strength_level", lua.LNumber(att.StrengthLevel))
	arg.RawSetString("strength_bonus", lua.LNumber(att.StrengthBonus))
	arg.RawSetString("defence_level", lua.LNumber(def.DefenceLevel))
	arg.RawSetString("defence_bonus", lua.LNumber(def.DefenceBonus))

	tbl, err := e.call("calc_hit_params", arg)
	if err != nil {
		return HitParams{}, err
	}
	return HitParams{
		AttackRoll:  tableNumber(tbl, "attack_roll"),
		DefenceRoll: tableNumber(tbl, "defence_roll"),
		HitChance:   tableNumber(tbl, "hit_chance"),
		MaxHit:      int(tableNumber(tbl, "max_hit")),
	}, nil
}

// AttackXP returns the attacker's XP award for a damaging hit.
func (e *Engine) AttackXP(damage int32) (attack, strength, hitpoints int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arg := e.vm.NewTable()
	arg.RawSetString("damage", lua.LNumber(damage))
	tbl, err := e.call("attack_xp", arg)
	if err != nil {
		return 0, 0, 0, err
	}
	return int64(tableNumber(tbl, "attack")), int64(tableNumber(tbl, "strength")), int64(tableNumber(tbl, "hitpoints")), nil
}

// DefenceXP returns the defender's XP award: a flat Defence award on a
// dodge, a Hitpoints award on a damaging hit.
func (e *Engine) DefenceXP(damage int32, didHit bool) (defence, hitpoints int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arg := e.vm.NewTable()
	arg.RawSetString("damage", lua.LNumber(damage))
	arg.RawSetString("did_hit", lua.LBool(didHit))
	tbl, err := e.call("defence_xp", arg)
	if err != nil {
		return 0, 0, err
	}
	return int64(tableNumber(tbl, "defence")), int64(tableNumber(tbl, "hitpoints")), nil
}
