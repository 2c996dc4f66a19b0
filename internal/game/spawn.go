package game

import (
	"go.uber.org/zap"

	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/world"
)

// SpawnEntities instantiates every entity_spawn object of every loaded map.
// Entities are never persisted; the world comes up fresh on each boot.
func SpawnEntities(st *store.Store, maps *data.Service, entities *data.EntityTable, log *zap.Logger) int {
	count := 0
	for _, mapID := range maps.IDs() {
		m := maps.Get(mapID)
		for _, spawn := range m.EntitySpawns {
			kind := entities.Get(spawn.EntityKind)
			if kind == nil {
				log.Warn("spawn references unknown entity kind",
					zap.Int32("map", mapID), zap.Int32("kind", spawn.EntityKind))
				continue
			}
			pos := world.Position{MapID: mapID, X: spawn.X, Y: spawn.Y}
			aggro := kind.AggroRange
			if spawn.AggroRange > 0 {
				aggro = spawn.AggroRange
			}
			disengage := kind.DisengageRange
			if spawn.DisengageRange > 0 {
				disengage = spawn.DisengageRange
			}
			st.AddEntity(&world.Entity{
				ID:             world.NextEntityID(),
				KindID:         kind.ID,
				Pos:            pos,
				SpawnPos:       pos,
				WanderRadius:   spawn.WanderRadius,
				AggroRange:     aggro,
				DisengageRange: disengage,
				HP:             kind.MaxHP,
				MaxHP:          kind.MaxHP,
				State:          world.EntityIdle,
			})
			count++
		}
	}
	log.Info("entities spawned", zap.Int("count", count))
	return count
}
