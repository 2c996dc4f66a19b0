package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/scripting"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/world"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("testdata/absent.toml")
	require.NoError(t, err)
	return cfg
}

func testItems(t *testing.T) *data.ItemTable {
	t.Helper()
	table, err := data.NewItemTable([]*data.ItemKind{
		{ID: 1, Name: "coins", Value: 1, Stackable: true, StackCap: 1000},
		{ID: 2, Name: "bronze sword", Value: 50, EquipSlot: data.SlotWeapon, AttackBonus: 6, StrengthBonus: 4, AttackSpeed: 2.4, MaxDurability: 100},
		{ID: 3, Name: "apple", Value: 2},
	})
	require.NoError(t, err)
	return table
}

func testEntities(t *testing.T) *data.EntityTable {
	t.Helper()
	table, err := data.NewEntityTable([]*data.EntityKind{
		{
			ID: 100, Name: "cave rat", MaxHP: 5, Attackable: true,
			AttackLevel: 1, StrengthLevel: 1, DefenceLevel: 1,
			AttackSpeed: 2.0, WanderTicks: 40,
		},
		{
			ID: 101, Name: "moss giant", MaxHP: 40, Attackable: true, Aggressive: true,
			AggroRange: 8, DisengageRange: 16,
			AttackLevel: 40, StrengthLevel: 99, StrengthBonus: 100, DefenceLevel: 30,
			AttackSpeed: 3.0,
		},
	})
	require.NoError(t, err)
	return table
}

// fakeDurable is an in-memory persistence layer for simulation tests.
type fakeDurable struct {
	mu      sync.Mutex
	players map[int64]*world.PlayerRecord
	invs    map[int64]*world.Inventory
	equips  map[int64]*world.Equipment
	skills  map[int64]*world.Skills
	ground  map[int32][]*world.GroundItem
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		players: make(map[int64]*world.PlayerRecord),
		invs:    make(map[int64]*world.Inventory),
		equips:  make(map[int64]*world.Equipment),
		skills:  make(map[int64]*world.Skills),
		ground:  make(map[int32][]*world.GroundItem),
	}
}

func (f *fakeDurable) GetPlayer(ctx context.Context, id int64) (*world.PlayerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.players[id]
	if !ok {
		return nil, store.ErrPlayerNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDurable) UpdatePlayerState(ctx context.Context, id int64, pos world.Position, hp int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.players[id]; ok {
		rec.Pos = pos
		rec.HP = hp
	}
	return nil
}

func (f *fakeDurable) LoadInventory(ctx context.Context, playerID int64, capacity int) (*world.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv, ok := f.invs[playerID]; ok {
		return inv.Clone(), nil
	}
	return world.NewInventory(capacity), nil
}

func (f *fakeDurable) ReplaceInventory(ctx context.Context, playerID int64, inv *world.Inventory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invs[playerID] = inv.Clone()
	return nil
}

func (f *fakeDurable) LoadEquipment(ctx context.Context, playerID int64) (*world.Equipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eq, ok := f.equips[playerID]; ok {
		return eq.Clone(), nil
	}
	return world.NewEquipment(), nil
}

func (f *fakeDurable) ReplaceEquipment(ctx context.Context, playerID int64, eq *world.Equipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.equips[playerID] = eq.Clone()
	return nil
}

func (f *fakeDurable) LoadSkills(ctx context.Context, playerID int64) (*world.Skills, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.skills[playerID]; ok {
		return s.Clone(), nil
	}
	return world.NewSkills(), nil
}

func (f *fakeDurable) ReplaceSkills(ctx context.Context, playerID int64, skills *world.Skills) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skills[playerID] = skills.Clone()
	return nil
}

func (f *fakeDurable) ReplaceGroundItems(ctx context.Context, mapID int32, items []*world.GroundItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ground[mapID] = items
	return nil
}

// fakeBroadcaster records frames and serves a static player roster.
type fakeBroadcaster struct {
	mu        sync.Mutex
	byPlayer  map[int64][][]byte
	byMap     map[int32][][]byte
	playersOn map[int32][]int64
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		byPlayer:  make(map[int64][][]byte),
		byMap:     make(map[int32][][]byte),
		playersOn: make(map[int32][]int64),
	}
}

func (b *fakeBroadcaster) ToPlayer(id int64, frame []byte) {
	b.mu.Lock()
	b.byPlayer[id] = append(b.byPlayer[id], frame)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) ToPlayers(ids []int64, frame []byte) {
	for _, id := range ids {
		b.ToPlayer(id, frame)
	}
}

func (b *fakeBroadcaster) ToMap(mapID int32, frame []byte) {
	b.mu.Lock()
	b.byMap[mapID] = append(b.byMap[mapID], frame)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) PlayersOnMap(mapID int32) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.playersOn[mapID]...)
}

func (b *fakeBroadcaster) SetMap(playerID int64, mapID int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ps := range b.playersOn {
		kept := ps[:0]
		for _, p := range ps {
			if p != playerID {
				kept = append(kept, p)
			}
		}
		b.playersOn[id] = kept
	}
	b.playersOn[mapID] = append(b.playersOn[mapID], playerID)
}

func (b *fakeBroadcaster) OnlineMaps() []int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int32, 0, len(b.playersOn))
	for id, ps := range b.playersOn {
		if len(ps) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (b *fakeBroadcaster) mapFrames(mapID int32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byMap[mapID])
}

func (b *fakeBroadcaster) playerFrames(id int64) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.byPlayer[id]...)
}

// world under test: player 1 online on map 1 at (5,5)
type fixture struct {
	cfg      *config.Config
	db       *fakeDurable
	store    *store.Store
	items    *data.ItemTable
	entities *data.EntityTable
	scripts  *scripting.Engine
	bcast    *fakeBroadcaster
	locks    *LockManager
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig(t)
	db := newFakeDurable()
	db.players[1] = &world.PlayerRecord{
		ID: 1, Username: "alice", Role: world.RolePlayer,
		Pos: world.Position{MapID: 1, X: 5, Y: 5},
		HP:  10,
	}
	log := zap.NewNop()
	st := store.New(cfg, db, log, nil)
	st.SetOnline(1, true)
	scripts, err := scripting.NewEngine(log)
	require.NoError(t, err)
	t.Cleanup(scripts.Close)
	bcast := newFakeBroadcaster()
	bcast.playersOn[1] = []int64{1}
	locks := NewLockManager(time.Second)
	resolver := NewResolver(cfg, st, testItems(t), testEntities(t), scripts, bcast, locks, log)
	return &fixture{
		cfg:      cfg,
		db:       db,
		store:    st,
		items:    testItems(t),
		entities: testEntities(t),
		scripts:  scripts,
		bcast:    bcast,
		locks:    locks,
		resolver: resolver,
	}
}

// pinRolls makes every swing hit for the maximum damage.
func (f *fixture) pinRolls() {
	f.resolver.randFloat = func() float64 { return 0 }
	f.resolver.randInt = func(n int) int { return n - 1 }
}

// pinMisses makes every swing miss.
func (f *fixture) pinMisses() {
	f.resolver.randFloat = func() float64 { return 1 }
	f.resolver.randInt = func(n int) int { return 0 }
}

func (f *fixture) addRat(t *testing.T, pos world.Position) *world.Entity {
	t.Helper()
	return f.addEntity(t, 100, pos)
}

func (f *fixture) addEntity(t *testing.T, kindID int32, pos world.Position) *world.Entity {
	t.Helper()
	kind := f.entities.Get(kindID)
	require.NotNil(t, kind)
	e := &world.Entity{
		ID: world.NextEntityID(), KindID: kindID,
		Pos: pos, SpawnPos: pos,
		WanderRadius: 3, AggroRange: kind.AggroRange, DisengageRange: kind.DisengageRange,
		HP: kind.MaxHP, MaxHP: kind.MaxHP, State: world.EntityIdle,
	}
	if e.DisengageRange == 0 {
		e.DisengageRange = 16
	}
	f.store.AddEntity(e)
	return e
}

func (f *fixture) setTarget(t *testing.T, playerID, entityID int64) {
	t.Helper()
	err := f.store.UpdatePlayerState(context.Background(), playerID, func(st *world.PlayerState) error {
		st.Target = &world.CombatTarget{Kind: world.TargetEntity, ID: entityID}
		return nil
	})
	require.NoError(t, err)
}
