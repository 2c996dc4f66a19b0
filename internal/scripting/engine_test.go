package scripting

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestHitParamsFormulas(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.HitParams(
		CombatStats{AttackLevel: 50, AttackBonus: 50, StrengthLevel: 50, StrengthBonus: 50},
		CombatStats{DefenceLevel: 10, DefenceBonus: 0},
	)
	require.NoError(t, err)

	// attack_roll = floor((50+50+8) * (64+50) / 64) = floor(108*114/64) = 192
	assert.Equal(t, 192.0, p.AttackRoll)
	// defence_roll = floor((10+0+8) * 64 / 64) = 18
	assert.Equal(t, 18.0, p.DefenceRoll)
	assert.InDelta(t, 192.0/210.0, p.HitChance, 1e-9)
	// max_hit = max(1, floor((50*(50+64)+320)/640)) = floor(6020/640) = 9
	assert.Equal(t, 9, p.MaxHit)
}

func TestHitChanceClamped(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.HitParams(
		CombatStats{AttackLevel: 99, AttackBonus: 100, StrengthLevel: 1},
		CombatStats{DefenceLevel: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, 0.95, p.HitChance)

	p, err = e.HitParams(
		CombatStats{AttackLevel: 1, StrengthLevel: 1},
		CombatStats{DefenceLevel: 99, DefenceBonus: 100},
	)
	require.NoError(t, err)
	assert.Equal(t, 0.05, p.HitChance)
}

func TestMaxHitFloorsAtOne(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.HitParams(CombatStats{AttackLevel: 1, StrengthLevel: 1}, CombatStats{DefenceLevel: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, p.MaxHit)
}

func TestAttackXP(t *testing.T) {
	e := newTestEngine(t)

	a, s, h, err := e.AttackXP(6)
	require.NoError(t, err)
	assert.EqualValues(t, 24, a)
	assert.EqualValues(t, 24, s)
	assert.EqualValues(t, 8, h)

	a, s, h, err = e.AttackXP(0)
	require.NoError(t, err)
	assert.Zero(t, a+s+h, "no XP on zero-damage hits")
}

func TestDefenceXP(t *testing.T) {
	e := newTestEngine(t)

	d, h, err := e.DefenceXP(0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 4, d, "dodge trains Defence")
	assert.Zero(t, h)

	d, h, err = e.DefenceXP(1, true)
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.EqualValues(t, 1, h, "hitpoints XP is at least 1 on a damaging hit")

	d, h, err = e.DefenceXP(9, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, h)
}

func TestEngineIsSafeForConcurrentCallers(t *testing.T) {
	e := newTestEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _, _, err := e.AttackXP(int32(j % 7))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
