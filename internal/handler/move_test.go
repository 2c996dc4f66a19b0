package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

func TestMoveStepsAndFaces(t *testing.T) {
	f := newFixture(t)

	resp := f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "right"})
	require.Equal(t, wire.RespData, resp.Type)
	var result wire.MoveResult
	require.NoError(t, wire.DecodePayload(resp, &result))
	assert.Equal(t, wire.PositionPayload{MapID: 1, X: 6, Y: 5}, result.Position)
	assert.Equal(t, "right", result.Facing)

	st := f.playerState(t, 1)
	assert.Equal(t, world.Position{MapID: 1, X: 6, Y: 5}, st.Pos)
	assert.Equal(t, "right", st.Facing)
}

func TestMoveRateLimited(t *testing.T) {
	f := newFixture(t)

	resp := f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "down"})
	require.Equal(t, wire.RespData, resp.Type)

	// second step inside the cooldown window
	resp = f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "down"})
	e := requireError(t, resp, wire.CodeMoveRateLimited)
	assert.Equal(t, wire.CategoryRateLimit, e.Category)
	assert.Contains(t, e.Details, "cooldown_remaining")

	// and again once the cooldown has elapsed
	f.advance(f.cfg.Game.MoveCooldown)
	resp = f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "down"})
	assert.Equal(t, wire.RespData, resp.Type)
	assert.Equal(t, world.Position{MapID: 1, X: 5, Y: 7}, f.playerState(t, 1).Pos)
}

func TestMoveCollision(t *testing.T) {
	f := newFixture(t)

	// (5,4) is a wall
	resp := f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "up"})
	requireError(t, resp, wire.CodeMoveCollisionDetected)
	assert.Equal(t, world.Position{MapID: 1, X: 5, Y: 5}, f.playerState(t, 1).Pos)
}

func TestMoveInvalidDirection(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "northwest"})
	requireError(t, resp, wire.CodeMoveInvalidDirection)
}

func TestMoveWhileDead(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpdatePlayerState(context.Background(), 1, func(st *world.PlayerState) error {
		st.HP = 0
		return nil
	}))
	resp := f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "down"})
	requireError(t, resp, wire.CodePlayerDead)
}

func TestAttackSetsTarget(t *testing.T) {
	f := newFixture(t)
	rat := f.addRat(t, world.Position{MapID: 1, X: 6, Y: 5})

	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: rat.ID})
	require.Equal(t, wire.RespSuccess, resp.Type)

	st := f.playerState(t, 1)
	require.NotNil(t, st.Target)
	assert.Equal(t, world.TargetEntity, st.Target.Kind)
	assert.Equal(t, rat.ID, st.Target.ID)
	assert.Equal(t, f.cfg.Combat.BaseAttackSpeed, st.AttackSpeed, "unarmed attack speed")
	assert.Equal(t, []int64{rat.ID}, f.combat.swungAt(), "first swing resolves at command time")
}

func TestAttackRejectsTargetBeyondMeleeRange(t *testing.T) {
	f := newFixture(t)
	// two tiles away: on screen, but melee does not reach
	rat := f.addRat(t, world.Position{MapID: 1, X: 7, Y: 5})

	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: rat.ID})
	requireError(t, resp, wire.CodeCombatOutOfRange)
	assert.Nil(t, f.playerState(t, 1).Target)
	assert.Empty(t, f.combat.swungAt())
}

func TestAttackRejectsPlayers(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "player", TargetID: 2})
	requireError(t, resp, wire.CodeCombatInvalidTarget)
	assert.Nil(t, f.playerState(t, 1).Target)
}

func TestAttackRejectsUnattackableKind(t *testing.T) {
	f := newFixture(t)
	crier := &world.Entity{
		ID: world.NextEntityID(), KindID: 102,
		Pos: world.Position{MapID: 1, X: 6, Y: 5}, SpawnPos: world.Position{MapID: 1, X: 6, Y: 5},
		HP: 10, MaxHP: 10, State: world.EntityIdle,
	}
	f.store.AddEntity(crier)

	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: crier.ID})
	requireError(t, resp, wire.CodeCombatInvalidTarget)
}

func TestAttackUnknownEntity(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: 9999})
	requireError(t, resp, wire.CodeCombatInvalidTarget)
}

func TestAttackRejectsTargetOnOtherMap(t *testing.T) {
	f := newFixture(t)
	rat := f.addRat(t, world.Position{MapID: 2, X: 5, Y: 5})
	resp := f.command(t, alice(), wire.CmdAttack, wire.AttackPayload{TargetType: "entity", TargetID: rat.ID})
	requireError(t, resp, wire.CodeCombatOutOfRange)
}

func TestToggleAutoRetaliate(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.playerState(t, 1).AutoRetaliate(), "defaults on")

	resp := f.command(t, alice(), wire.CmdToggleAutoRetaliate, wire.ToggleAutoRetaliatePayload{Enabled: false})
	require.Equal(t, wire.RespSuccess, resp.Type)
	assert.False(t, f.playerState(t, 1).AutoRetaliate())
}
