package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/persist"
	"github.com/tilemud/server/internal/world"
)

// ErrPlayerNotFound is returned for ids with neither hot nor durable state.
var ErrPlayerNotFound = errors.New("player not found")

// Durable is the slice of the persistence layer the store reads through to
// and flushes into.
type Durable interface {
	GetPlayer(ctx context.Context, id int64) (*world.PlayerRecord, error)
	UpdatePlayerState(ctx context.Context, id int64, pos world.Position, hp int32) error
	LoadInventory(ctx context.Context, playerID int64, capacity int) (*world.Inventory, error)
	ReplaceInventory(ctx context.Context, playerID int64, inv *world.Inventory) error
	LoadEquipment(ctx context.Context, playerID int64) (*world.Equipment, error)
	ReplaceEquipment(ctx context.Context, playerID int64, eq *world.Equipment) error
	LoadSkills(ctx context.Context, playerID int64) (*world.Skills, error)
	ReplaceSkills(ctx context.Context, playerID int64, skills *world.Skills) error
	ReplaceGroundItems(ctx context.Context, mapID int32, items []*world.GroundItem) error
}

// Repos bundles the pgx repositories into the Durable interface.
type Repos struct {
	Players *persist.PlayerRepo
	Items   *persist.ItemRepo
	Skills  *persist.SkillsRepo
	Ground  *persist.GroundItemRepo
}

func (r Repos) GetPlayer(ctx context.Context, id int64) (*world.PlayerRecord, error) {
	rec, err := r.Players.GetByID(ctx, id)
	if errors.Is(err, persist.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	return rec, err
}

func (r Repos) UpdatePlayerState(ctx context.Context, id int64, pos world.Position, hp int32) error {
	return r.Players.UpdateState(ctx, id, pos, hp)
}

func (r Repos) LoadInventory(ctx context.Context, playerID int64, capacity int) (*world.Inventory, error) {
	return r.Items.LoadInventory(ctx, playerID, capacity)
}

func (r Repos) ReplaceInventory(ctx context.Context, playerID int64, inv *world.Inventory) error {
	return r.Items.ReplaceInventory(ctx, playerID, inv)
}

func (r Repos) LoadEquipment(ctx context.Context, playerID int64) (*world.Equipment, error) {
	return r.Items.LoadEquipment(ctx, playerID)
}

func (r Repos) ReplaceEquipment(ctx context.Context, playerID int64, eq *world.Equipment) error {
	return r.Items.ReplaceEquipment(ctx, playerID, eq)
}

func (r Repos) LoadSkills(ctx context.Context, playerID int64) (*world.Skills, error) {
	return r.Skills.Load(ctx, playerID)
}

func (r Repos) ReplaceSkills(ctx context.Context, playerID int64, skills *world.Skills) error {
	return r.Skills.Replace(ctx, playerID, skills)
}

func (r Repos) ReplaceGroundItems(ctx context.Context, mapID int32, items []*world.GroundItem) error {
	return r.Ground.ReplaceMap(ctx, mapID, items)
}

// Cache keys. Player-keyed state is keyed by numeric id, never by username.
func keyPlayerState(id int64) string { return "player:state:" + strconv.FormatInt(id, 10) }
func keyInventory(id int64) string   { return "player:inv:" + strconv.FormatInt(id, 10) }
func keyEquipment(id int64) string   { return "player:equip:" + strconv.FormatInt(id, 10) }
func keySkills(id int64) string      { return "player:skills:" + strconv.FormatInt(id, 10) }
func keyEntity(id int64) string      { return "entity:" + strconv.FormatInt(id, 10) }
func keyGroundItem(id int64) string  { return "ground:" + strconv.FormatInt(id, 10) }

// Store is the single source of truth for live game state.
type Store struct {
	cfg   *config.Config
	log   *zap.Logger
	cache *Cache
	db    Durable
	clock func() time.Time

	mu           sync.Mutex
	online       map[int64]struct{}
	entitiesBy   map[int32]map[int64]struct{} // map id → entity ids
	groundBy     map[int32]map[int64]struct{} // map id → ground item ids
	dirtyPos     map[int64]struct{}
	dirtyInv     map[int64]struct{}
	dirtyEquip   map[int64]struct{}
	dirtySkills  map[int64]struct{}
	dirtyGround  map[int32]struct{}
}

func New(cfg *config.Config, db Durable, log *zap.Logger, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		cfg:         cfg,
		log:         log.Named("store"),
		cache:       NewCache(cfg.Cache.MaxRetries, cfg.Cache.RetryBackoff, clock),
		db:          db,
		clock:       clock,
		online:      make(map[int64]struct{}),
		entitiesBy:  make(map[int32]map[int64]struct{}),
		groundBy:    make(map[int32]map[int64]struct{}),
		dirtyPos:    make(map[int64]struct{}),
		dirtyInv:    make(map[int64]struct{}),
		dirtyEquip:  make(map[int64]struct{}),
		dirtySkills: make(map[int64]struct{}),
		dirtyGround: make(map[int32]struct{}),
	}
}

// playerTTL picks the entry TTL by online/offline status at write time.
func (s *Store) playerTTL(id int64) time.Duration {
	s.mu.Lock()
	_, on := s.online[id]
	s.mu.Unlock()
	if on {
		return s.cfg.Cache.OnlineTTL
	}
	return s.cfg.Cache.OfflineTTL
}

// --- Online registry ---

// SetOnline marks a player online/offline. The caller flushes separately on
// logout.
func (s *Store) SetOnline(id int64, online bool) {
	s.mu.Lock()
	if online {
		s.online[id] = struct{}{}
	} else {
		delete(s.online, id)
	}
	s.mu.Unlock()
}

// OnlinePlayers returns the online ids in ascending order; the tick loop
// relies on this for deterministic emission order.
func (s *Store) OnlinePlayers() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// --- Player state ---

// GetPlayerState reads through to the durable record on a cache miss,
// materializing an offline runtime state. Callers cannot tell online players
// from offline ones.
func (s *Store) GetPlayerState(ctx context.Context, id int64) (*world.PlayerState, error) {
	if v, _, ok := s.cache.get(keyPlayerState(id)); ok {
		return v.(*world.PlayerState).Clone(), nil
	}
	st, err := s.loadPlayerState(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.set(keyPlayerState(id), st, s.playerTTL(id))
	return st.Clone(), nil
}

func (s *Store) loadPlayerState(ctx context.Context, id int64) (*world.PlayerState, error) {
	rec, err := s.db.GetPlayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load player %d: %w", id, err)
	}
	skills, err := s.GetSkills(ctx, id)
	if err != nil {
		return nil, err
	}
	maxHP := int32(skills.Level(world.SkillHitpoints))
	hp := rec.HP
	if hp > maxHP {
		hp = maxHP
	}
	if hp <= 0 {
		hp = maxHP
	}
	return &world.PlayerState{
		ID:         rec.ID,
		Username:   rec.Username,
		Role:       rec.Role,
		Pos:        rec.Pos,
		HP:         hp,
		MaxHP:      maxHP,
		Facing:     world.FaceDown,
		Appearance: rec.Appearance,
	}, nil
}

// PutPlayerState overwrites the cached state and marks position dirty.
func (s *Store) PutPlayerState(st *world.PlayerState) {
	s.cache.set(keyPlayerState(st.ID), st.Clone(), s.playerTTL(st.ID))
	s.markDirty(s.dirtyPos, st.ID)
}

// UpdatePlayerState applies fn to the player's state atomically.
func (s *Store) UpdatePlayerState(ctx context.Context, id int64, fn func(st *world.PlayerState) error) error {
	if _, err := s.GetPlayerState(ctx, id); err != nil {
		return err
	}
	err := s.cache.Update(ctx, func(tx *Tx) error {
		v, ok := tx.Get(keyPlayerState(id))
		if !ok {
			return ErrPlayerNotFound
		}
		st := v.(*world.PlayerState).Clone()
		if err := fn(st); err != nil {
			return err
		}
		tx.Set(keyPlayerState(id), st, s.playerTTL(id))
		return nil
	})
	if err != nil {
		return err
	}
	s.markDirty(s.dirtyPos, id)
	return nil
}

// --- Inventory / equipment / skills ---

func (s *Store) GetInventory(ctx context.Context, id int64) (*world.Inventory, error) {
	if v, _, ok := s.cache.get(keyInventory(id)); ok {
		return v.(*world.Inventory).Clone(), nil
	}
	inv, err := s.db.LoadInventory(ctx, id, s.cfg.Game.InventorySlots)
	if err != nil {
		return nil, fmt.Errorf("load inventory %d: %w", id, err)
	}
	s.cache.set(keyInventory(id), inv, s.playerTTL(id))
	return inv.Clone(), nil
}

func (s *Store) GetEquipment(ctx context.Context, id int64) (*world.Equipment, error) {
	if v, _, ok := s.cache.get(keyEquipment(id)); ok {
		return v.(*world.Equipment).Clone(), nil
	}
	eq, err := s.db.LoadEquipment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load equipment %d: %w", id, err)
	}
	s.cache.set(keyEquipment(id), eq, s.playerTTL(id))
	return eq.Clone(), nil
}

func (s *Store) GetSkills(ctx context.Context, id int64) (*world.Skills, error) {
	if v, _, ok := s.cache.get(keySkills(id)); ok {
		return v.(*world.Skills).Clone(), nil
	}
	skills, err := s.db.LoadSkills(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load skills %d: %w", id, err)
	}
	s.cache.set(keySkills(id), skills, s.playerTTL(id))
	return skills.Clone(), nil
}

// PlayerTx exposes a player's state pieces inside one atomic transaction.
// Accessors return mutable copies; staged values commit together or not at
// all.
type PlayerTx struct {
	s   *Store
	tx  *Tx
	ctx context.Context

	wrotePos    map[int64]struct{}
	wroteInv    map[int64]struct{}
	wroteEquip  map[int64]struct{}
	wroteSkills map[int64]struct{}
}

func (p *PlayerTx) State(id int64) (*world.PlayerState, error) {
	if _, err := p.s.GetPlayerState(p.ctx, id); err != nil {
		return nil, err
	}
	v, ok := p.tx.Get(keyPlayerState(id))
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return v.(*world.PlayerState).Clone(), nil
}

func (p *PlayerTx) SetState(st *world.PlayerState) {
	p.tx.Set(keyPlayerState(st.ID), st, p.s.playerTTL(st.ID))
	p.wrotePos[st.ID] = struct{}{}
}

func (p *PlayerTx) Inventory(id int64) (*world.Inventory, error) {
	if _, err := p.s.GetInventory(p.ctx, id); err != nil {
		return nil, err
	}
	v, ok := p.tx.Get(keyInventory(id))
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return v.(*world.Inventory).Clone(), nil
}

func (p *PlayerTx) SetInventory(id int64, inv *world.Inventory) {
	p.tx.Set(keyInventory(id), inv, p.s.playerTTL(id))
	p.wroteInv[id] = struct{}{}
}

func (p *PlayerTx) Equipment(id int64) (*world.Equipment, error) {
	if _, err := p.s.GetEquipment(p.ctx, id); err != nil {
		return nil, err
	}
	v, ok := p.tx.Get(keyEquipment(id))
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return v.(*world.Equipment).Clone(), nil
}

func (p *PlayerTx) SetEquipment(id int64, eq *world.Equipment) {
	p.tx.Set(keyEquipment(id), eq, p.s.playerTTL(id))
	p.wroteEquip[id] = struct{}{}
}

func (p *PlayerTx) Skills(id int64) (*world.Skills, error) {
	if _, err := p.s.GetSkills(p.ctx, id); err != nil {
		return nil, err
	}
	v, ok := p.tx.Get(keySkills(id))
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return v.(*world.Skills).Clone(), nil
}

func (p *PlayerTx) SetSkills(id int64, skills *world.Skills) {
	p.tx.Set(keySkills(id), skills, p.s.playerTTL(id))
	p.wroteSkills[id] = struct{}{}
}

// Atomic runs fn inside one optimistic cache transaction; on success the
// touched dirty buckets are marked.
func (s *Store) Atomic(ctx context.Context, fn func(tx *PlayerTx) error) error {
	var last *PlayerTx
	err := s.cache.Update(ctx, func(tx *Tx) error {
		p := &PlayerTx{
			s: s, tx: tx, ctx: ctx,
			wrotePos:    map[int64]struct{}{},
			wroteInv:    map[int64]struct{}{},
			wroteEquip:  map[int64]struct{}{},
			wroteSkills: map[int64]struct{}{},
		}
		last = p
		return fn(p)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	for id := range last.wrotePos {
		s.dirtyPos[id] = struct{}{}
	}
	for id := range last.wroteInv {
		s.dirtyInv[id] = struct{}{}
	}
	for id := range last.wroteEquip {
		s.dirtyEquip[id] = struct{}{}
	}
	for id := range last.wroteSkills {
		s.dirtySkills[id] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

// --- Entities (no TTL, never persisted; they respawn fresh on boot) ---

// AddEntity registers a live entity instance.
func (s *Store) AddEntity(e *world.Entity) {
	s.cache.set(keyEntity(e.ID), e.Clone(), 0)
	s.mu.Lock()
	if s.entitiesBy[e.Pos.MapID] == nil {
		s.entitiesBy[e.Pos.MapID] = make(map[int64]struct{})
	}
	s.entitiesBy[e.Pos.MapID][e.ID] = struct{}{}
	s.mu.Unlock()
}

// GetEntity returns a copy of the entity, or nil when gone.
func (s *Store) GetEntity(id int64) *world.Entity {
	if v, _, ok := s.cache.get(keyEntity(id)); ok {
		return v.(*world.Entity).Clone()
	}
	return nil
}

// UpdateEntity applies fn to the entity atomically. Returns false when the
// entity no longer exists; fn errors abort the write.
func (s *Store) UpdateEntity(ctx context.Context, id int64, fn func(e *world.Entity) error) (bool, error) {
	found := false
	err := s.cache.Update(ctx, func(tx *Tx) error {
		v, ok := tx.Get(keyEntity(id))
		if !ok {
			found = false
			return nil
		}
		found = true
		e := v.(*world.Entity).Clone()
		if err := fn(e); err != nil {
			return err
		}
		tx.Set(keyEntity(id), e, 0)
		return nil
	})
	return found, err
}

// EntitiesOnMap lists copies of the entities on a map, ascending by id.
func (s *Store) EntitiesOnMap(mapID int32) []*world.Entity {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.entitiesBy[mapID]))
	for id := range s.entitiesBy[mapID] {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*world.Entity, 0, len(ids))
	for _, id := range ids {
		if e := s.GetEntity(id); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// --- Ground items ---

// AddGroundItem registers a live ground item and marks its map dirty.
func (s *Store) AddGroundItem(g *world.GroundItem) {
	s.putGroundItem(g)
	s.markDirtyMap(g.Pos.MapID)
}

// SeedGroundItems loads cold-start items without dirtying anything.
func (s *Store) SeedGroundItems(items []*world.GroundItem) {
	for _, g := range items {
		s.putGroundItem(g)
	}
}

func (s *Store) putGroundItem(g *world.GroundItem) {
	s.cache.set(keyGroundItem(g.ID), g.Clone(), 0)
	s.mu.Lock()
	if s.groundBy[g.Pos.MapID] == nil {
		s.groundBy[g.Pos.MapID] = make(map[int64]struct{})
	}
	s.groundBy[g.Pos.MapID][g.ID] = struct{}{}
	s.mu.Unlock()
}

// GetGroundItem returns a copy of the item, or nil when gone.
func (s *Store) GetGroundItem(id int64) *world.GroundItem {
	if v, _, ok := s.cache.get(keyGroundItem(id)); ok {
		return v.(*world.GroundItem).Clone()
	}
	return nil
}

// RemoveGroundItem deletes the item, returning the removed copy.
func (s *Store) RemoveGroundItem(id int64) *world.GroundItem {
	g := s.GetGroundItem(id)
	if g == nil {
		return nil
	}
	s.cache.delete(keyGroundItem(id))
	s.mu.Lock()
	if ids := s.groundBy[g.Pos.MapID]; ids != nil {
		delete(ids, id)
	}
	s.mu.Unlock()
	s.markDirtyMap(g.Pos.MapID)
	return g
}

// GroundItemsOnMap lists copies of the items on a map, ascending by id.
func (s *Store) GroundItemsOnMap(mapID int32) []*world.GroundItem {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.groundBy[mapID]))
	for id := range s.groundBy[mapID] {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*world.GroundItem, 0, len(ids))
	for _, id := range ids {
		if g := s.GetGroundItem(id); g != nil {
			out = append(out, g)
		}
	}
	return out
}

// MapsWithGroundItems lists map ids currently holding items.
func (s *Store) MapsWithGroundItems() []int32 {
	s.mu.Lock()
	out := make([]int32, 0, len(s.groundBy))
	for id, items := range s.groundBy {
		if len(items) > 0 {
			out = append(out, id)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// --- Dirty buckets ---

func (s *Store) markDirty(bucket map[int64]struct{}, id int64) {
	s.mu.Lock()
	bucket[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) markDirtyMap(mapID int32) {
	s.mu.Lock()
	s.dirtyGround[mapID] = struct{}{}
	s.mu.Unlock()
}

// MarkInventoryDirty flags a player's inventory for the next flush.
func (s *Store) MarkInventoryDirty(id int64) { s.markDirty(s.dirtyInv, id) }

// MarkEquipmentDirty flags a player's equipment for the next flush.
func (s *Store) MarkEquipmentDirty(id int64) { s.markDirty(s.dirtyEquip, id) }

// MarkSkillsDirty flags a player's skills for the next flush.
func (s *Store) MarkSkillsDirty(id int64) { s.markDirty(s.dirtySkills, id) }
