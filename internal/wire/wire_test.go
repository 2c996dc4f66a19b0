package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode("c-17", CmdMove, MovePayload{Direction: "up"})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "c-17", msg.ID)
	assert.Equal(t, CmdMove, msg.Type)
	assert.Equal(t, ProtocolVersion, msg.Version)

	var p MovePayload
	require.NoError(t, DecodePayload(msg, &p))
	assert.Equal(t, "up", p.Direction)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	data, err := Marshal(map[string]any{"id": "x", "version": 1})
	require.NoError(t, err)
	_, err = Decode(data)
	assert.Error(t, err)
}

func TestEventHasNoCorrelationID(t *testing.T) {
	data, err := EncodeEvent(EventPlayerLeft, PlayerLeftPayload{PlayerID: 9, Username: "bob"})
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, msg.ID)
	assert.Equal(t, EventPlayerLeft, msg.Type)
}

func TestDeterministicEncoding(t *testing.T) {
	// Visibility diffing compares payload bytes, so equal payloads must
	// encode to equal bytes.
	p := EntityPayload{ID: EntityRef(4), Kind: "entity", KindID: 2, X: 10, Y: 12, HP: 30, MaxHP: 30, State: "idle", Attackable: true}
	a, err := Marshal(p)
	require.NoError(t, err)
	b, err := Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	p.X++
	c, err := Marshal(p)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestRefs(t *testing.T) {
	assert.Equal(t, "player:5", PlayerRef(5))
	assert.Equal(t, "entity:12", EntityRef(12))
	assert.Equal(t, "ground_item:7", GroundItemRef(7))
}

func TestRateLimitedError(t *testing.T) {
	e := RateLimited(CodeMoveRateLimited, "move cooldown active", 50*time.Millisecond)
	assert.Equal(t, CategoryRateLimit, e.Category)
	assert.EqualValues(t, 50, e.Details["cooldown_remaining"])
	assert.Equal(t, "MOVE_RATE_LIMITED: move cooldown active", e.Error())
}
