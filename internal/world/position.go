// Package world holds the pure domain types and rules: positions, player
// state, inventory and equipment algebra, skills/XP, entity instances and
// ground items. Nothing here touches the network or the database.
package world

// Position is a tile coordinate on a map.
type Position struct {
	MapID int32
	X     int32
	Y     int32
}

// Chebyshev is the range metric for a square grid: max(|Δx|, |Δy|).
func Chebyshev(ax, ay, bx, by int32) int32 {
	dx := ax - bx
	if dx < 0 {
		dx = -dx
	}
	dy := ay - by
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// Dist is Chebyshev distance between two positions on the same map.
// Positions on different maps are infinitely far apart.
func Dist(a, b Position) int32 {
	if a.MapID != b.MapID {
		return 1<<31 - 1
	}
	return Chebyshev(a.X, a.Y, b.X, b.Y)
}

// Facing directions.
const (
	FaceUp    = "up"
	FaceDown  = "down"
	FaceLeft  = "left"
	FaceRight = "right"
)

// Step returns the position one tile in the given direction, or ok=false for
// an unknown direction.
func Step(p Position, direction string) (Position, bool) {
	switch direction {
	case FaceUp:
		p.Y--
	case FaceDown:
		p.Y++
	case FaceLeft:
		p.X--
	case FaceRight:
		p.X++
	default:
		return p, false
	}
	return p, true
}

// StepToward returns the next tile of a greedy one-tile step from `from`
// toward `to` (diagonals allowed), used by entity pursuit and wander.
func StepToward(from, to Position) Position {
	next := from
	if to.X > from.X {
		next.X++
	} else if to.X < from.X {
		next.X--
	}
	if to.Y > from.Y {
		next.Y++
	} else if to.Y < from.Y {
		next.Y--
	}
	return next
}
