package world

import "math"

// SkillKind names a trainable skill.
type SkillKind string

const (
	SkillAttack    SkillKind = "attack"
	SkillStrength  SkillKind = "strength"
	SkillDefence   SkillKind = "defence"
	SkillHitpoints SkillKind = "hitpoints"
	SkillMining    SkillKind = "mining"
)

// MaxLevel caps every skill.
const MaxLevel = 99

// HitpointsStartLevel is the level (and max HP) of a fresh character.
const HitpointsStartLevel = 10

// xpTable[L] is the base XP required to reach level L+1, i.e. xpTable[0]=0
// is level 1. Classic curve: xp(L) = floor(sum_{i=1..L-1} floor(i + 300·2^(i/7)) / 4).
var xpTable = buildXPTable()

func buildXPTable() [MaxLevel]int64 {
	var table [MaxLevel]int64
	var acc int64
	for level := 1; level < MaxLevel; level++ {
		acc += int64(math.Floor(float64(level) + 300*math.Pow(2, float64(level)/7)))
		table[level] = acc / 4
	}
	return table
}

// XPForLevel is the XP threshold of a level under a multiplier. A multiplier
// above 1 makes levels cheaper (the table is divided by it). Levels outside
// [1, MaxLevel] clamp.
func XPForLevel(level int, multiplier float64) int64 {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return int64(float64(xpTable[level-1]) / multiplier)
}

// LevelForXP finds the level for an XP amount by binary search.
func LevelForXP(xp int64, multiplier float64) int {
	lo, hi := 1, MaxLevel
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if XPForLevel(mid, multiplier) <= xp {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// ProgressToNext is the [0,1) fraction of the way from the current level's
// threshold to the next. At MaxLevel it returns 1.
func ProgressToNext(xp int64, multiplier float64) float64 {
	level := LevelForXP(xp, multiplier)
	if level >= MaxLevel {
		return 1
	}
	cur := XPForLevel(level, multiplier)
	next := XPForLevel(level+1, multiplier)
	if next <= cur {
		return 1
	}
	return float64(xp-cur) / float64(next-cur)
}

// SkillState is one skill's progress.
type SkillState struct {
	Level int
	XP    int64
}

// Skills maps skill kind → state.
type Skills struct {
	Kinds map[SkillKind]*SkillState
}

// MultiplierFunc resolves the per-skill XP multiplier.
type MultiplierFunc func(skill string) float64

// NewSkills returns the starting skill block for a fresh character.
func NewSkills() *Skills {
	return &Skills{Kinds: map[SkillKind]*SkillState{
		SkillAttack:    {Level: 1},
		SkillStrength:  {Level: 1},
		SkillDefence:   {Level: 1},
		SkillHitpoints: {Level: HitpointsStartLevel, XP: xpTable[HitpointsStartLevel-1]},
		SkillMining:    {Level: 1},
	}}
}

// Clone deep-copies the skill block.
func (s *Skills) Clone() *Skills {
	cp := &Skills{Kinds: make(map[SkillKind]*SkillState, len(s.Kinds))}
	for k, v := range s.Kinds {
		dup := *v
		cp.Kinds[k] = &dup
	}
	return cp
}

// Level reads a skill's level; unknown skills read as 1.
func (s *Skills) Level(kind SkillKind) int {
	if st, ok := s.Kinds[kind]; ok {
		return st.Level
	}
	return 1
}

// AddXP grants XP and recomputes the level. Returns the new level and
// whether it increased.
func (s *Skills) AddXP(kind SkillKind, xp int64, mult MultiplierFunc) (int, bool) {
	if xp <= 0 {
		return s.Level(kind), false
	}
	st, ok := s.Kinds[kind]
	if !ok {
		st = &SkillState{Level: 1}
		s.Kinds[kind] = st
	}
	st.XP += xp
	m := 1.0
	if mult != nil {
		m = mult(string(kind))
	}
	newLevel := LevelForXP(st.XP, m)
	leveled := newLevel > st.Level
	if leveled {
		st.Level = newLevel
	}
	return st.Level, leveled
}
