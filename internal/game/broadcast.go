package game

// Broadcaster is the slice of the session layer the simulation needs to push
// frames out. The session registry implements it; tests substitute a fake.
type Broadcaster interface {
	// ToPlayer queues a frame for one player. Unknown/offline ids are dropped.
	ToPlayer(playerID int64, frame []byte)
	// ToPlayers queues a frame for several players.
	ToPlayers(playerIDs []int64, frame []byte)
	// ToMap queues a frame for every player on a map.
	ToMap(mapID int32, frame []byte)
	// PlayersOnMap lists the online player ids on a map, ascending.
	PlayersOnMap(mapID int32) []int64
	// OnlineMaps lists the map ids with at least one player, ascending.
	OnlineMaps() []int32
	// SetMap re-homes a player's routing after a cross-map move (teleport,
	// respawn). The simulation owns positions; the session layer mirrors
	// them for frame routing.
	SetMap(playerID int64, mapID int32)
}
