package session

import (
	"sort"
	"sync"
)

// Registry tracks live sessions by player id, username and current map. It
// implements the simulation's Broadcaster interface, so frame routing and
// roster queries both come from the same bookkeeping.
type Registry struct {
	mu       sync.RWMutex
	byPlayer map[int64]*Session
	byName   map[string]*Session
	mapOf    map[int64]int32
	byMap    map[int32]map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byPlayer: make(map[int64]*Session),
		byName:   make(map[string]*Session),
		mapOf:    make(map[int64]int32),
		byMap:    make(map[int32]map[int64]*Session),
	}
}

// Register adds a session on the given map. A second login for the same
// player replaces the first; the displaced session is returned so the caller
// can close it.
func (r *Registry) Register(s *Session, mapID int32) (replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.byPlayer[s.PlayerID]; old != nil && old != s {
		replaced = old
		r.removeLocked(old)
	}
	r.byPlayer[s.PlayerID] = s
	r.byName[s.Username] = s
	r.mapOf[s.PlayerID] = mapID
	if r.byMap[mapID] == nil {
		r.byMap[mapID] = make(map[int64]*Session)
	}
	r.byMap[mapID][s.PlayerID] = s
	return replaced
}

// Unregister removes the session if it is still the player's current one.
// A stale session (already replaced by a relogin) is a no-op.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byPlayer[s.PlayerID] != s {
		return false
	}
	r.removeLocked(s)
	return true
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byPlayer, s.PlayerID)
	delete(r.byName, s.Username)
	if mapID, ok := r.mapOf[s.PlayerID]; ok {
		delete(r.mapOf, s.PlayerID)
		if m := r.byMap[mapID]; m != nil {
			delete(m, s.PlayerID)
			if len(m) == 0 {
				delete(r.byMap, mapID)
			}
		}
	}
}

// Get returns the player's session, or nil.
func (r *Registry) Get(playerID int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPlayer[playerID]
}

// Lookup resolves a username to its session, or nil. Usernames are stored
// normalized, so callers pass the normalized form.
func (r *Registry) Lookup(username string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[username]
}

// LookupID resolves a normalized username to a player id.
func (r *Registry) LookupID(username string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.byName[username]
	if s == nil {
		return 0, false
	}
	return s.PlayerID, true
}

// Kick closes the player's session if one is live. The connection teardown
// path handles unregistration and the disconnect lifecycle.
func (r *Registry) Kick(playerID int64) {
	if s := r.Get(playerID); s != nil {
		s.Close()
	}
}

// Count is the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPlayer)
}

// SetMap re-homes a player after a cross-map move.
func (r *Registry) SetMap(playerID int64, mapID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byPlayer[playerID]
	if s == nil {
		return
	}
	if old, ok := r.mapOf[playerID]; ok && old != mapID {
		if m := r.byMap[old]; m != nil {
			delete(m, playerID)
			if len(m) == 0 {
				delete(r.byMap, old)
			}
		}
	}
	r.mapOf[playerID] = mapID
	if r.byMap[mapID] == nil {
		r.byMap[mapID] = make(map[int64]*Session)
	}
	r.byMap[mapID][playerID] = s
}

// MapOf returns the player's current map and whether they are online.
func (r *Registry) MapOf(playerID int64) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.mapOf[playerID]
	return id, ok
}

// --- Broadcaster ---

// ToPlayer queues a frame for one player.
func (r *Registry) ToPlayer(playerID int64, frame []byte) {
	if s := r.Get(playerID); s != nil {
		s.Send(frame)
	}
}

// ToPlayers queues a frame for several players.
func (r *Registry) ToPlayers(playerIDs []int64, frame []byte) {
	for _, id := range playerIDs {
		r.ToPlayer(id, frame)
	}
}

// ToMap queues a frame for every player on a map.
func (r *Registry) ToMap(mapID int32, frame []byte) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byMap[mapID]))
	for _, s := range r.byMap[mapID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Send(frame)
	}
}

// PlayersOnMap lists the online player ids on a map in ascending order.
func (r *Registry) PlayersOnMap(mapID int32) []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.byMap[mapID]))
	for id := range r.byMap[mapID] {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OnlineMaps lists map ids holding at least one player, ascending.
func (r *Registry) OnlineMaps() []int32 {
	r.mu.RLock()
	out := make([]int32, 0, len(r.byMap))
	for id, m := range r.byMap {
		if len(m) > 0 {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
