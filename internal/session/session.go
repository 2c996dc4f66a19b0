// Package session owns the WebSocket transport: the per-connection session
// with its bounded send queue, the registry that routes frames to players
// and maps, and the server that runs the authenticate handshake.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 90 * time.Second
	pingPeriod   = 30 * time.Second
)

// Session is one authenticated client connection. Reads happen on the
// server's per-connection goroutine; writes are queued through a bounded
// channel drained by the write goroutine, so simulation code never blocks
// on a slow client.
type Session struct {
	PlayerID int64
	Username string
	Role     string

	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func newSession(conn *websocket.Conn, playerID int64, username, role string, sendSize int, limiter *rate.Limiter, log *zap.Logger) *Session {
	return &Session{
		PlayerID: playerID,
		Username: username,
		Role:     role,
		conn:     conn,
		send:     make(chan []byte, sendSize),
		limiter:  limiter,
		closeCh:  make(chan struct{}),
		log:      log.With(zap.Int64("player", playerID), zap.String("username", username)),
	}
}

// Send queues a frame. Non-blocking: a full queue means the client cannot
// keep up, and the session is closed rather than stalling the simulation.
func (s *Session) Send(frame []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.send <- frame:
	default:
		s.log.Warn("send queue full, closing slow session")
		s.Close()
	}
}

// Close shuts the session down once. The read loop unblocks via the closed
// connection; the write loop via closeCh.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// IsClosed reports whether Close has run.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.closeCh }

// allowFrame applies the connection-level frame budget. Exceeding it is a
// protocol violation, not a gameplay error: the connection is dropped.
func (s *Session) allowFrame() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// writeLoop drains the send queue onto the socket and keeps the connection
// alive with pings.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeCh:
			s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
