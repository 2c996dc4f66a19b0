// Package handler is the command layer: it receives decoded frames from the
// session server, runs each one under the sender's player lock, and answers
// with correlated responses. Game rules live in the world and game packages;
// handlers validate, translate domain errors to wire codes and route events.
package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/game"
	"github.com/tilemud/server/internal/session"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// Action-limiter operation names.
const (
	opMove   = "move"
	opAttack = "attack"
)

// Sessions is the transport surface handlers talk to: frame routing plus the
// roster operations admin commands need.
type Sessions interface {
	game.Broadcaster
	LookupID(username string) (int64, bool)
	Kick(playerID int64)
}

// Combat is the resolver surface the attack command calls into for its
// immediate first swing; subsequent swings run on the tick cadence.
type Combat interface {
	PlayerSwing(ctx context.Context, tick int64, now time.Time, att *world.PlayerState, target *world.Entity)
}

// Accounts is the slice of the persistence layer that bypasses the hot-state
// store: durable account fields with no runtime copy.
type Accounts interface {
	GetByUsername(ctx context.Context, username string) (*world.PlayerRecord, error)
	UpdateAppearance(ctx context.Context, id int64, appearance map[string]string) error
	SetBanned(ctx context.Context, id int64, banned bool) error
	SetTimeout(ctx context.Context, id int64, until *time.Time) error
}

// Deps wires the handler into the rest of the server.
type Deps struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Store    *store.Store
	Items    *data.ItemTable
	Entities *data.EntityTable
	Maps     *data.Service
	Sessions Sessions
	Accounts Accounts
	Combat   Combat
	Locks    *game.LockManager
	Limiter  *game.ActionLimiter
	Vis      *game.Visibility
	Clock    func() time.Time
	Tick     func() int64 // current tick counter, for command-time swings
}

// player identifies the sender of a command.
type player struct {
	ID       int64
	Username string
	Role     string
}

type handlerFunc func(ctx context.Context, p player, msg wire.Message) error

// Handler implements session.Dispatcher.
type Handler struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	items    *data.ItemTable
	entities *data.EntityTable
	maps     *data.Service
	sessions Sessions
	accounts Accounts
	combat   Combat
	locks    *game.LockManager
	limiter  *game.ActionLimiter
	vis      *game.Visibility
	clock    func() time.Time
	tick     func() int64

	routes map[string]handlerFunc
}

var _ session.Dispatcher = (*Handler)(nil)

func New(d Deps) *Handler {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	tick := d.Tick
	if tick == nil {
		tick = func() int64 { return 0 }
	}
	h := &Handler{
		cfg:      d.Cfg,
		log:      d.Log.Named("handler"),
		store:    d.Store,
		items:    d.Items,
		entities: d.Entities,
		maps:     d.Maps,
		sessions: d.Sessions,
		accounts: d.Accounts,
		combat:   d.Combat,
		locks:    d.Locks,
		limiter:  d.Limiter,
		vis:      d.Vis,
		clock:    clock,
		tick:     tick,
	}
	h.routes = map[string]handlerFunc{
		wire.CmdMove:                h.handleMove,
		wire.CmdAttack:              h.handleAttack,
		wire.CmdToggleAutoRetaliate: h.handleToggleAutoRetaliate,
		wire.CmdInventoryMove:       h.handleInventoryMove,
		wire.CmdInventorySort:       h.handleInventorySort,
		wire.CmdItemEquip:           h.handleEquip,
		wire.CmdItemUnequip:         h.handleUnequip,
		wire.CmdItemDrop:            h.handleDrop,
		wire.CmdItemPickup:          h.handlePickup,
		wire.CmdChatMessage:         h.handleChat,
		wire.CmdSetAppearance:       h.handleSetAppearance,
		wire.CmdAdmin:               h.handleAdmin,
		wire.QueryInventory:         h.handleQueryInventory,
		wire.QueryEquipment:         h.handleQueryEquipment,
		wire.QueryStats:             h.handleQueryStats,
		wire.QueryMapChunks:         h.handleQueryMapChunks,
	}
	return h
}

// --- session.Dispatcher ---

func (h *Handler) Connect(ctx context.Context, s *session.Session) error {
	return h.connect(ctx, player{ID: s.PlayerID, Username: s.Username, Role: s.Role})
}

func (h *Handler) Dispatch(ctx context.Context, s *session.Session, msg wire.Message) {
	h.dispatch(ctx, player{ID: s.PlayerID, Username: s.Username, Role: s.Role}, msg)
}

func (h *Handler) Disconnect(ctx context.Context, s *session.Session) {
	h.disconnect(ctx, player{ID: s.PlayerID, Username: s.Username, Role: s.Role})
}

// dispatch runs one command under the sender's lock. Commands from one player
// execute strictly in arrival order; the lock also excludes the tick systems
// touching the same player mid-command.
func (h *Handler) dispatch(ctx context.Context, p player, msg wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic",
				zap.Int64("player", p.ID),
				zap.String("command", msg.Type),
				zap.Any("panic", r))
			h.replyError(p.ID, msg.ID, wire.System())
		}
	}()

	fn := h.routes[msg.Type]
	if fn == nil {
		h.replyError(p.ID, msg.ID, wire.Validation(wire.CodeUnknownCommand, "unknown command type "+msg.Type))
		return
	}

	if err := h.locks.Acquire(ctx, p.ID); err != nil {
		h.log.Warn("player lock acquire failed",
			zap.Int64("player", p.ID),
			zap.String("command", msg.Type),
			zap.Error(err))
		h.replyError(p.ID, msg.ID, wire.System())
		return
	}
	defer h.locks.Release(p.ID)

	if err := fn(ctx, p, msg); err != nil {
		var we *wire.Error
		if errors.As(err, &we) {
			h.replyError(p.ID, msg.ID, we)
			return
		}
		h.log.Error("command failed",
			zap.Int64("player", p.ID),
			zap.String("command", msg.Type),
			zap.Error(err))
		h.replyError(p.ID, msg.ID, wire.System())
	}
}

// connect brings the player into the live world: materialize hot state, mark
// online, send the welcome frame, greet on the server channel, announce the
// join to the map and hand the client its initial view of the surroundings.
func (h *Handler) connect(ctx context.Context, p player) error {
	eq, err := h.store.GetEquipment(ctx, p.ID)
	if err != nil {
		return err
	}
	speed := eq.WeaponSpeed(h.items, h.cfg.Combat.BaseAttackSpeed)

	h.store.SetOnline(p.ID, true)
	var st *world.PlayerState
	err = h.store.UpdatePlayerState(ctx, p.ID, func(s *world.PlayerState) error {
		s.Online = true
		s.AttackSpeed = speed
		st = s.Clone()
		return nil
	})
	if err != nil {
		h.store.SetOnline(p.ID, false)
		return err
	}

	welcome := wire.WelcomePayload{
		PlayerID:   st.ID,
		Username:   st.Username,
		Role:       st.Role,
		Position:   positionPayload(st.Pos),
		HP:         st.HP,
		MaxHP:      st.MaxHP,
		Appearance: st.Appearance,
		MOTD:       h.cfg.Server.MOTD,
		Config: wire.WelcomeConfig{
			MoveCooldownMS:      h.cfg.Game.MoveCooldown.Milliseconds(),
			AnimationDurationMS: h.cfg.Game.AnimationDuration.Milliseconds(),
			ProtocolVersion:     wire.ProtocolVersion,
		},
	}
	if frame, err := wire.EncodeEvent(wire.EventWelcome, welcome); err == nil {
		h.sessions.ToPlayer(p.ID, frame)
	}

	// the MOTD again, as a regular chat line the client's chat log can show
	if frame, err := wire.EncodeEvent(wire.EventChatMessage, wire.ChatEventPayload{
		Channel: ChannelSystem,
		From:    h.cfg.Server.Name,
		Message: h.cfg.Server.MOTD,
	}); err == nil {
		h.sessions.ToPlayer(p.ID, frame)
	}

	if frame, err := wire.EncodeEvent(wire.EventPlayerJoined, wire.PlayerJoinedPayload{
		PlayerID: st.ID,
		Username: st.Username,
		Position: positionPayload(st.Pos),
	}); err == nil {
		h.sessions.ToMap(st.Pos.MapID, frame)
	}

	h.sendInitialView(ctx, st)
	return nil
}

// sendInitialView hands the joining client a one-shot state update with
// everything already on screen, so it renders the surroundings before the
// first visibility tick. Diffing seeds the visibility baseline, which keeps
// that tick from re-sending the same entries.
func (h *Handler) sendInitialView(ctx context.Context, viewer *world.PlayerState) {
	players := []*world.PlayerState{viewer}
	for _, id := range h.sessions.PlayersOnMap(viewer.Pos.MapID) {
		if id == viewer.ID {
			continue
		}
		other, err := h.store.GetPlayerState(ctx, id)
		if err != nil {
			continue
		}
		players = append(players, other)
	}
	snapshot := game.BuildView(h.cfg.Visibility.TileRadius, h.entities, viewer,
		players,
		h.store.EntitiesOnMap(viewer.Pos.MapID),
		h.store.GroundItemsOnMap(viewer.Pos.MapID),
		h.clock())
	changed, _, err := h.vis.Diff(viewer.ID, snapshot)
	if err != nil {
		h.log.Error("initial view diff failed", zap.Int64("player", viewer.ID), zap.Error(err))
		return
	}
	if len(changed) == 0 {
		return
	}
	if frame, err := wire.EncodeEvent(wire.EventStateUpdate, wire.StateUpdatePayload{
		Entities: changed,
		MapID:    viewer.Pos.MapID,
	}); err == nil {
		h.sessions.ToPlayer(viewer.ID, frame)
	}
}

// disconnect tears the player's runtime footprint down and flushes their
// state synchronously so a crash right after cannot lose the session.
func (h *Handler) disconnect(ctx context.Context, p player) {
	mapID := h.cfg.Game.Spawn.MapID
	err := h.store.UpdatePlayerState(ctx, p.ID, func(s *world.PlayerState) error {
		mapID = s.Pos.MapID
		s.Online = false
		s.Target = nil
		return nil
	})
	if err != nil {
		h.log.Warn("disconnect state update failed", zap.Int64("player", p.ID), zap.Error(err))
	}
	h.store.SetOnline(p.ID, false)
	if err := h.store.FlushPlayer(ctx, p.ID); err != nil {
		h.log.Error("logout flush failed", zap.Int64("player", p.ID), zap.Error(err))
	}

	if frame, err := wire.EncodeEvent(wire.EventPlayerLeft, wire.PlayerLeftPayload{
		PlayerID: p.ID,
		Username: p.Username,
	}); err == nil {
		h.sessions.ToMap(mapID, frame)
	}

	h.vis.Remove(p.ID)
	h.limiter.Remove(p.ID)
	h.locks.Remove(p.ID)
}

// --- reply helpers ---

func (h *Handler) reply(playerID int64, corrID, msgType string, payload any) {
	frame, err := wire.Encode(corrID, msgType, payload)
	if err != nil {
		h.log.Error("encode reply failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.sessions.ToPlayer(playerID, frame)
}

func (h *Handler) success(playerID int64, corrID string) {
	h.reply(playerID, corrID, wire.RespSuccess, nil)
}

func (h *Handler) data(playerID int64, corrID string, payload any) {
	h.reply(playerID, corrID, wire.RespData, payload)
}

func (h *Handler) replyError(playerID int64, corrID string, e *wire.Error) {
	h.reply(playerID, corrID, wire.RespError, e)
}

func positionPayload(pos world.Position) wire.PositionPayload {
	return wire.PositionPayload{MapID: pos.MapID, X: pos.X, Y: pos.Y}
}

func badPayload(msg wire.Message) *wire.Error {
	return wire.Validation(wire.CodeMalformedFrame, "malformed "+msg.Type+" payload")
}
