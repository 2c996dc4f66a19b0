package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tilemud/server/internal/auth"
	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// PlayerDirectory is the slice of the persistence layer the handshake needs.
type PlayerDirectory interface {
	GetByID(ctx context.Context, id int64) (*world.PlayerRecord, error)
}

// authTimeout bounds the window between the upgrade and CMD_AUTHENTICATE.
const authTimeout = 10 * time.Second

// fullRetryAfter is the reconnect hint handed to clients turned away at the
// capacity gate.
const fullRetryAfter = 30 * time.Second

// Dispatcher is the game-facing side of a session's lifecycle. The command
// layer implements it; the server only moves frames.
type Dispatcher interface {
	// Connect runs after a successful handshake: welcome, join broadcast,
	// initial state. An error aborts the session.
	Connect(ctx context.Context, s *Session) error
	// Dispatch handles one decoded command frame.
	Dispatch(ctx context.Context, s *Session, msg wire.Message)
	// Disconnect runs once per session after the read loop ends.
	Disconnect(ctx context.Context, s *Session)
}

// Server upgrades HTTP connections to WebSocket sessions and runs the
// authenticate handshake before any command is dispatched.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	tokens     *auth.Manager
	players    PlayerDirectory
	registry   *Registry
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	clock      func() time.Time
}

func NewServer(cfg *config.Config, tokens *auth.Manager, players PlayerDirectory, registry *Registry, dispatcher Dispatcher, log *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		log:        log.Named("session"),
		tokens:     tokens,
		players:    players,
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the browser client may be served from anywhere; auth is the JWT
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clock: time.Now,
	}
}

// Mount registers the WebSocket endpoint on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	go s.serveConn(r.Context(), conn)
}

// serveConn runs one connection: handshake, register, read loop, teardown.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	sess, authID, err := s.handshake(conn)
	if err != nil {
		conn.Close()
		return
	}

	go sess.writeLoop()

	// ack the authenticate command before any event
	if frame, err := wire.Encode(authID, wire.RespSuccess, nil); err == nil {
		sess.Send(frame)
	}

	mapID, ok := s.spawnMap(ctx, sess.PlayerID)
	if !ok {
		mapID = s.cfg.Game.Spawn.MapID
	}
	if replaced := s.registry.Register(sess, mapID); replaced != nil {
		s.log.Info("session replaced by relogin", zap.Int64("player", sess.PlayerID))
		replaced.Close()
	}

	if err := s.dispatcher.Connect(ctx, sess); err != nil {
		s.log.Error("connect failed", zap.Int64("player", sess.PlayerID), zap.Error(err))
		s.teardown(ctx, sess)
		return
	}
	s.log.Info("player connected",
		zap.Int64("player", sess.PlayerID),
		zap.String("username", sess.Username))

	s.readLoop(ctx, sess)
	s.teardown(ctx, sess)
}

func (s *Server) spawnMap(ctx context.Context, playerID int64) (int32, bool) {
	rec, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		return 0, false
	}
	return rec.Pos.MapID, true
}

// handshake reads exactly one frame, which must be CMD_AUTHENTICATE with a
// valid token, and gate-checks the account. The returned correlation id
// acks the command once the session is live.
func (s *Server) handshake(conn *websocket.Conn) (*Session, string, error) {
	conn.SetReadDeadline(s.clock().Add(authTimeout))
	kind, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, "", err
	}
	if kind != websocket.BinaryMessage {
		s.rejectRaw(conn, "", wire.Validation(wire.CodeMalformedFrame, "frames must be binary CBOR"))
		return nil, "", errors.New("non-binary handshake frame")
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		s.rejectRaw(conn, "", wire.Validation(wire.CodeMalformedFrame, "malformed frame"))
		return nil, "", err
	}
	if msg.Type != wire.CmdAuthenticate {
		s.rejectRaw(conn, msg.ID, wire.Auth(wire.CodeAuthRequired, "first message must be CMD_AUTHENTICATE"))
		return nil, "", errors.New("handshake: unexpected " + msg.Type)
	}
	var p wire.AuthenticatePayload
	if err := wire.DecodePayload(msg, &p); err != nil {
		s.rejectRaw(conn, msg.ID, wire.Auth(wire.CodeAuthInvalidToken, "malformed authenticate payload"))
		return nil, "", err
	}
	playerID, err := s.tokens.Verify(p.Token)
	if err != nil {
		s.rejectRaw(conn, msg.ID, wire.Auth(wire.CodeAuthInvalidToken, "invalid or expired token"))
		return nil, "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		s.rejectRaw(conn, msg.ID, wire.Auth(wire.CodeAuthInvalidToken, "unknown account"))
		return nil, "", err
	}
	now := s.clock()
	if rec.Banned {
		s.rejectRaw(conn, msg.ID, wire.Auth(wire.CodeAuthBanned, "account is banned"))
		return nil, "", errors.New("banned account")
	}
	if rec.TimedOut(now) {
		e := wire.Auth(wire.CodeAuthTimedOut, "account is timed out").
			WithDetail("until", rec.TimeoutUntil.UTC().Format(time.RFC3339))
		s.rejectRaw(conn, msg.ID, e)
		return nil, "", errors.New("timed out account")
	}
	// privileged roles bypass the capacity gate
	if s.registry.Count() >= s.cfg.Server.MaxPlayers && !world.Privileged(rec.Role) {
		e := wire.Auth(wire.CodeServerFull, "server is full").
			WithDetail("max_players", s.cfg.Server.MaxPlayers).
			WithDetail("retry_after_seconds", int64(fullRetryAfter.Seconds())).
			WithSuggestion("retry after retry_after_seconds")
		s.rejectRaw(conn, msg.ID, e)
		return nil, "", errors.New("server full")
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit.FramesPerSecond), s.cfg.RateLimit.FrameBurst)
	sess := newSession(conn, rec.ID, rec.Username, rec.Role, 256, limiter, s.log)
	conn.SetReadDeadline(now.Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(s.clock().Add(pongWait))
		return nil
	})
	return sess, msg.ID, nil
}

// rejectRaw writes one error frame straight to the socket during the
// handshake, before the write loop exists.
func (s *Server) rejectRaw(conn *websocket.Conn, id string, e *wire.Error) {
	frame, err := wire.Encode(id, wire.RespError, e)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(s.clock().Add(writeTimeout))
	conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Server) readLoop(ctx context.Context, sess *Session) {
	for {
		kind, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if !sess.IsClosed() {
				s.log.Debug("read failed", zap.Int64("player", sess.PlayerID), zap.Error(err))
			}
			return
		}
		sess.conn.SetReadDeadline(s.clock().Add(pongWait))
		if kind != websocket.BinaryMessage {
			continue
		}
		if !sess.allowFrame() {
			s.log.Warn("frame rate exceeded, closing connection", zap.Int64("player", sess.PlayerID))
			sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "frame rate exceeded"),
				s.clock().Add(time.Second))
			return
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			if errFrame, eerr := wire.Encode("", wire.RespError,
				wire.Validation(wire.CodeMalformedFrame, "malformed frame")); eerr == nil {
				sess.Send(errFrame)
			}
			continue
		}
		s.dispatcher.Dispatch(ctx, sess, msg)
	}
}

func (s *Server) teardown(ctx context.Context, sess *Session) {
	sess.Close()
	current := s.registry.Unregister(sess)
	if current {
		s.dispatcher.Disconnect(ctx, sess)
	}
	s.log.Info("player disconnected", zap.Int64("player", sess.PlayerID))
}
