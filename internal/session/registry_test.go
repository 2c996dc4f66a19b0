package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func stubSession(id int64, name string) *Session {
	return &Session{
		PlayerID: id,
		Username: name,
		send:     make(chan []byte, 16),
		closeCh:  make(chan struct{}),
		log:      zap.NewNop(),
	}
}

func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-s.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestRegistryRegisterAndRoute(t *testing.T) {
	r := NewRegistry()
	alice := stubSession(1, "alice")
	bob := stubSession(2, "bob")
	r.Register(alice, 1)
	r.Register(bob, 2)

	assert.Equal(t, 2, r.Count())
	assert.Same(t, alice, r.Get(1))
	assert.Same(t, bob, r.Lookup("bob"))
	assert.Equal(t, []int64{1}, r.PlayersOnMap(1))
	assert.Equal(t, []int32{1, 2}, r.OnlineMaps())

	r.ToMap(1, []byte("m1"))
	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))

	r.ToPlayer(2, []byte("direct"))
	assert.Len(t, drain(bob), 1)

	r.ToPlayers([]int64{1, 2, 99}, []byte("both"))
	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)
}

func TestRegistryReloginReplaces(t *testing.T) {
	r := NewRegistry()
	first := stubSession(1, "alice")
	second := stubSession(1, "alice")

	assert.Nil(t, r.Register(first, 1))
	replaced := r.Register(second, 1)
	assert.Same(t, first, replaced)
	assert.Same(t, second, r.Get(1))
	assert.Equal(t, 1, r.Count())

	// the stale session's unregister must not evict the new one
	assert.False(t, r.Unregister(first))
	assert.Same(t, second, r.Get(1))

	assert.True(t, r.Unregister(second))
	assert.Zero(t, r.Count())
}

func TestRegistrySetMap(t *testing.T) {
	r := NewRegistry()
	alice := stubSession(1, "alice")
	r.Register(alice, 1)

	r.SetMap(1, 5)
	mapID, ok := r.MapOf(1)
	require.True(t, ok)
	assert.EqualValues(t, 5, mapID)
	assert.Empty(t, r.PlayersOnMap(1))
	assert.Equal(t, []int64{1}, r.PlayersOnMap(5))
	assert.Equal(t, []int32{5}, r.OnlineMaps())

	// unknown player is a no-op
	r.SetMap(42, 5)
	assert.Equal(t, []int64{1}, r.PlayersOnMap(5))
}

func TestRegistryPlayersOnMapSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int64{5, 1, 9, 3} {
		r.Register(stubSession(id, ""), 1)
	}
	assert.Equal(t, []int64{1, 3, 5, 9}, r.PlayersOnMap(1))
}

func TestSessionSendOverflowCloses(t *testing.T) {
	s := stubSession(1, "alice")
	s.send = make(chan []byte, 1)

	s.Send([]byte("a"))
	assert.False(t, s.IsClosed())
	s.Send([]byte("b")) // queue full: slow client gets dropped
	assert.True(t, s.IsClosed())
	s.Send([]byte("c")) // sends after close are swallowed
	assert.Len(t, s.send, 1)
}
