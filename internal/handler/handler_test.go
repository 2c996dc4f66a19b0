package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/game"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// fakeDurable is an in-memory persistence layer for handler tests.
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

// fakeSessions implements the Sessions surface in memory.
type fakeSessions struct {
	mu        sync.Mutex
	byPlayer  map[int64][][]byte
	byMap     map[int32][][]byte
	playersOn map[int32][]int64
	names     map[string]int64
	kicked    []int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		byPlayer:  make(map[int64][][]byte),
		byMap:     make(map[int32][][]byte),
		playersOn: make(map[int32][]int64),
		names:     make(map[string]int64),
	}
}

func (s *fakeSessions) ToPlayer(id int64, frame []byte) {
	s.mu.Lock()
	s.byPlayer[id] = append(s.byPlayer[id], frame)
	s.mu.Unlock()
}

func (s *fakeSessions) ToPlayers(ids []int64, frame []byte) {
	for _, id := range ids {
		s.ToPlayer(id, frame)
	}
}

func (s *fakeSessions) ToMap(mapID int32, frame []byte) {
	s.mu.Lock()
	s.byMap[mapID] = append(s.byMap[mapID], frame)
	s.mu.Unlock()
}

func (s *fakeSessions) PlayersOnMap(mapID int32) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.playersOn[mapID]...)
}

func (s *fakeSessions) OnlineMaps() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int32, 0, len(s.playersOn))
	for id, ps := range s.playersOn {
		if len(ps) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (s *fakeSessions) SetMap(playerID int64, mapID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ps := range s.playersOn {
		kept := ps[:0]
		for _, p := range ps {
			if p != playerID {
				kept = append(kept, p)
			}
		}
		s.playersOn[id] = kept
	}
	s.playersOn[mapID] = append(s.playersOn[mapID], playerID)
}

func (s *fakeSessions) LookupID(username string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.names[username]
	return id, ok
}

func (s *fakeSessions) Kick(playerID int64) {
	s.mu.Lock()
	s.kicked = append(s.kicked, playerID)
	s.mu.Unlock()
}

// take drains the frames queued for one player.
func (s *fakeSessions) take(id int64) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.byPlayer[id]
	s.byPlayer[id] = nil
	return out
}

func (s *fakeSessions) takeMap(mapID int32) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.byMap[mapID]
	s.byMap[mapID] = nil
	return out
}

// fakeCombat records command-time swings without resolving them.
type fakeCombat struct {
	mu     sync.Mutex
	swings []int64
}

func (c *fakeCombat) PlayerSwing(ctx context.Context, tick int64, now time.Time, att *world.PlayerState, target *world.Entity) {
	c.mu.Lock()
	c.swings = append(c.swings, target.ID)
	c.mu.Unlock()
}

func (c *fakeCombat) swungAt() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.swings...)
}

// fakeAccounts records durable account mutations.
type fakeAccounts struct {
	mu         sync.Mutex
	db         *fakeDurable
	appearance map[int64]map[string]string
	banned     map[int64]bool
	timeouts   map[int64]*time.Time
}

func newFakeAccounts(db *fakeDurable) *fakeAccounts {
	return &fakeAccounts{
		db:         db,
		appearance: make(map[int64]map[string]string),
		banned:     make(map[int64]bool),
		timeouts:   make(map[int64]*time.Time),
	}
}

func (a *fakeAccounts) GetByUsername(ctx context.Context, username string) (*world.PlayerRecord, error) {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	for _, rec := range a.db.players {
		if rec.Username == username {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, store.ErrPlayerNotFound
}

func (a *fakeAccounts) UpdateAppearance(ctx context.Context, id int64, appearance map[string]string) error {
	a.mu.Lock()
	a.appearance[id] = appearance
	a.mu.Unlock()
	return nil
}

func (a *fakeAccounts) SetBanned(ctx context.Context, id int64, banned bool) error {
	a.mu.Lock()
	a.banned[id] = banned
	a.mu.Unlock()
	return nil
}

func (a *fakeAccounts) SetTimeout(ctx context.Context, id int64, until *time.Time) error {
	a.mu.Lock()
	a.timeouts[id] = until
	a.mu.Unlock()
	return nil
}

// fixture: alice (1) and bob (2) online on map 1, root (3) an admin.
// Tile (5,4) is blocked so collision paths are reachable from alice at (5,5).
type fixture struct {
	cfg      *config.Config
	db       *fakeDurable
	store    *store.Store
	items    *data.ItemTable
	entities *data.EntityTable
	sess     *fakeSessions
	accounts *fakeAccounts
	combat   *fakeCombat
	h        *Handler

	mu  sync.Mutex
	now time.Time
}

func testItems(t *testing.T) *data.ItemTable {
	t.Helper()
	table, err := data.NewItemTable([]*data.ItemKind{
		{ID: 1, Name: "coins", Value: 1, Stackable: true, StackCap: 1000},
		{ID: 2, Name: "bronze sword", Value: 50, EquipSlot: data.SlotWeapon, AttackBonus: 6, StrengthBonus: 4, AttackSpeed: 2.4, MaxDurability: 100},
		{ID: 3, Name: "apple", Value: 2},
		{ID: 4, Name: "rune sword", Value: 5000, Rarity: "rare", EquipSlot: data.SlotWeapon, AttackBonus: 40, AttackSpeed: 2.4, Requirements: map[string]int{"attack": 50}},
	})
	require.NoError(t, err)
	return table
}

func testEntities(t *testing.T) *data.EntityTable {
	t.Helper()
	table, err := data.NewEntityTable([]*data.EntityKind{
		{ID: 100, Name: "cave rat", MaxHP: 5, Attackable: true, AttackLevel: 1, StrengthLevel: 1, DefenceLevel: 1, AttackSpeed: 2.0},
		{ID: 102, Name: "town crier", MaxHP: 10},
	})
	require.NoError(t, err)
	return table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Load("testdata/absent.toml")
	require.NoError(t, err)

	db := newFakeDurable()
	db.players[1] = &world.PlayerRecord{ID: 1, Username: "alice", Role: world.RolePlayer, Pos: world.Position{MapID: 1, X: 5, Y: 5}, HP: 10}
	db.players[2] = &world.PlayerRecord{ID: 2, Username: "bob", Role: world.RolePlayer, Pos: world.Position{MapID: 1, X: 6, Y: 5}, HP: 10}
	db.players[3] = &world.PlayerRecord{ID: 3, Username: "root", Role: world.RoleAdmin, Pos: world.Position{MapID: 1, X: 1, Y: 1}, HP: 10}

	collision := make([]uint32, 20*20)
	collision[4*20+5] = 1 // wall directly above alice
	m := data.NewMap(1, 20, 20, 32, []data.TileLayer{
		{Name: "ground", Data: make([]uint32, 20*20)},
		{Name: "collision", Collision: true, Data: collision},
	})

	f := &fixture{
		cfg:      cfg,
		db:       db,
		items:    testItems(t),
		entities: testEntities(t),
		sess:     newFakeSessions(),
		accounts: newFakeAccounts(db),
		combat:   &fakeCombat{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}
	f.store = store.New(cfg, db, zap.NewNop(), clock)
	f.h = New(Deps{
		Cfg:      cfg,
		Log:      zap.NewNop(),
		Store:    f.store,
		Items:    f.items,
		Entities: f.entities,
		Maps:     data.NewService([]*data.Map{m}, cfg.Maps.ChunkSize),
		Sessions: f.sess,
		Accounts: f.accounts,
		Combat:   f.combat,
		Locks:    game.NewLockManager(time.Second),
		Limiter:  game.NewActionLimiter(clock),
		Vis:      game.NewVisibility(cfg.VisibilityCacheSize()),
		Clock:    clock,
	})

	for id, name := range map[int64]string{1: "alice", 2: "bob", 3: "root"} {
		f.store.SetOnline(id, true)
		f.sess.names[name] = id
		f.sess.playersOn[1] = append(f.sess.playersOn[1], id)
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func alice() player { return player{ID: 1, Username: "alice", Role: world.RolePlayer} }
func bob() player   { return player{ID: 2, Username: "bob", Role: world.RolePlayer} }
func admin() player { return player{ID: 3, Username: "root", Role: world.RoleAdmin} }

// command dispatches one command and returns the correlated response.
func (f *fixture) command(t *testing.T, p player, msgType string, payload any) wire.Message {
	t.Helper()
	raw, err := wire.Encode("c1", msgType, payload)
	require.NoError(t, err)
	msg, err := wire.Decode(raw)
	require.NoError(t, err)
	f.h.dispatch(context.Background(), p, msg)

	for _, frame := range f.sess.take(p.ID) {
		resp, err := wire.Decode(frame)
		require.NoError(t, err)
		if resp.ID == "c1" {
			return resp
		}
	}
	t.Fatalf("no correlated response for %s", msgType)
	return wire.Message{}
}

func requireError(t *testing.T, resp wire.Message, code string) wire.Error {
	t.Helper()
	require.Equal(t, wire.RespError, resp.Type)
	var e wire.Error
	require.NoError(t, wire.DecodePayload(resp, &e))
	require.Equal(t, code, e.Code)
	return e
}

func (f *fixture) addRat(t *testing.T, pos world.Position) *world.Entity {
	t.Helper()
	kind := f.entities.Get(100)
	e := &world.Entity{
		ID: world.NextEntityID(), KindID: 100,
		Pos: pos, SpawnPos: pos,
		HP: kind.MaxHP, MaxHP: kind.MaxHP, State: world.EntityIdle,
	}
	f.store.AddEntity(e)
	return e
}

func (f *fixture) giveItem(t *testing.T, playerID int64, stack world.ItemStack) {
	t.Helper()
	err := f.store.Atomic(context.Background(), func(tx *store.PlayerTx) error {
		inv, err := tx.Inventory(playerID)
		if err != nil {
			return err
		}
		if err := inv.Add(stack, f.items); err != nil {
			return err
		}
		tx.SetInventory(playerID, inv)
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) playerState(t *testing.T, id int64) *world.PlayerState {
	t.Helper()
	st, err := f.store.GetPlayerState(context.Background(), id)
	require.NoError(t, err)
	return st
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	resp := f.command(t, alice(), "CMD_DANCE", nil)
	requireError(t, resp, wire.CodeUnknownCommand)
}

func TestConnectSendsWelcomeAndAnnouncesJoin(t *testing.T) {
	f := newFixture(t)
	rat := f.addRat(t, world.Position{MapID: 1, X: 8, Y: 8})
	f.store.AddGroundItem(&world.GroundItem{
		ID: world.NextGroundItemID(), KindID: 3, Name: "apple",
		Pos: world.Position{MapID: 1, X: 5, Y: 6}, Quantity: 1,
		PublicAt: f.now, DespawnAt: f.now.Add(time.Hour),
	})
	require.NoError(t, f.h.connect(context.Background(), alice()))

	var (
		welcome *wire.WelcomePayload
		greet   *wire.ChatEventPayload
		initial *wire.StateUpdatePayload
	)
	for _, frame := range f.sess.take(1) {
		msg, err := wire.Decode(frame)
		require.NoError(t, err)
		switch msg.Type {
		case wire.EventWelcome:
			var w wire.WelcomePayload
			require.NoError(t, wire.DecodePayload(msg, &w))
			welcome = &w
		case wire.EventChatMessage:
			var c wire.ChatEventPayload
			require.NoError(t, wire.DecodePayload(msg, &c))
			greet = &c
		case wire.EventStateUpdate:
			var s wire.StateUpdatePayload
			require.NoError(t, wire.DecodePayload(msg, &s))
			initial = &s
		}
	}
	require.NotNil(t, welcome)
	assert.EqualValues(t, 1, welcome.PlayerID)
	assert.Equal(t, "alice", welcome.Username)
	assert.Equal(t, wire.PositionPayload{MapID: 1, X: 5, Y: 5}, welcome.Position)
	assert.EqualValues(t, 10, welcome.HP)
	assert.Equal(t, f.cfg.Server.MOTD, welcome.MOTD)
	assert.Equal(t, f.cfg.Game.MoveCooldown.Milliseconds(), welcome.Config.MoveCooldownMS)
	assert.Equal(t, wire.ProtocolVersion, welcome.Config.ProtocolVersion)

	require.NotNil(t, greet, "server-channel greeting follows the welcome")
	assert.Equal(t, ChannelSystem, greet.Channel)
	assert.Equal(t, f.cfg.Server.MOTD, greet.Message)

	// the one-shot initial view covers the players, entities and ground
	// items already on screen
	require.NotNil(t, initial)
	assert.EqualValues(t, 1, initial.MapID)
	refs := make(map[string]bool, len(initial.Entities))
	for _, e := range initial.Entities {
		refs[e.ID] = true
	}
	assert.True(t, refs[wire.PlayerRef(2)], "bob is on screen")
	assert.True(t, refs[wire.EntityRef(rat.ID)])
	ground := false
	for _, e := range initial.Entities {
		if e.Kind == "ground_item" {
			ground = true
		}
	}
	assert.True(t, ground)

	joined := false
	for _, frame := range f.sess.takeMap(1) {
		msg, err := wire.Decode(frame)
		require.NoError(t, err)
		if msg.Type == wire.EventPlayerJoined {
			joined = true
		}
	}
	assert.True(t, joined)
	assert.True(t, f.playerState(t, 1).Online)
}

func TestDisconnectFlushesAndAnnouncesLeave(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.h.connect(context.Background(), alice()))
	f.sess.take(1)
	f.sess.takeMap(1)

	// move off the durable position so the flush is observable
	resp := f.command(t, alice(), wire.CmdMove, wire.MovePayload{Direction: "down"})
	require.Equal(t, wire.RespData, resp.Type)

	f.h.disconnect(context.Background(), alice())

	f.db.mu.Lock()
	flushed := f.db.players[1].Pos
	f.db.mu.Unlock()
	assert.Equal(t, world.Position{MapID: 1, X: 5, Y: 6}, flushed)

	left := false
	for _, frame := range f.sess.takeMap(1) {
		msg, err := wire.Decode(frame)
		require.NoError(t, err)
		if msg.Type == wire.EventPlayerLeft {
			left = true
		}
	}
	assert.True(t, left)
	assert.NotContains(t, f.store.OnlinePlayers(), int64(1))
}
