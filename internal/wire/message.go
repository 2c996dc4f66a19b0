// Package wire defines the client/server message envelope, the message-type
// enum and the CBOR codec. Every frame on the socket is exactly one
// CBOR-encoded Message.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion is stamped on every message and echoed in EVENT_WELCOME.
const ProtocolVersion = 1

// Message is the envelope for every frame in both directions.
// ID is the client-supplied correlation id on commands; server events carry
// an empty ID.
type Message struct {
	ID      string          `cbor:"id,omitempty"`
	Type    string          `cbor:"type"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
	Version int             `cbor:"version"`
}

// Command types (client → server).
const (
	CmdAuthenticate        = "CMD_AUTHENTICATE"
	CmdMove                = "CMD_MOVE"
	CmdAttack              = "CMD_ATTACK"
	CmdToggleAutoRetaliate = "CMD_TOGGLE_AUTO_RETALIATE"
	CmdInventoryMove       = "CMD_INVENTORY_MOVE"
	CmdInventorySort       = "CMD_INVENTORY_SORT"
	CmdItemEquip           = "CMD_ITEM_EQUIP"
	CmdItemUnequip         = "CMD_ITEM_UNEQUIP"
	CmdItemDrop            = "CMD_ITEM_DROP"
	CmdItemPickup          = "CMD_ITEM_PICKUP"
	CmdChatMessage         = "CMD_CHAT_MESSAGE"
	CmdSetAppearance       = "CMD_SET_APPEARANCE"
	CmdAdmin               = "CMD_ADMIN"

	QueryInventory = "QUERY_INVENTORY"
	QueryEquipment = "QUERY_EQUIPMENT"
	QueryStats     = "QUERY_STATS"
	QueryMapChunks = "QUERY_MAP_CHUNKS"
)

// Response types (server → client, correlated by Message.ID).
const (
	RespSuccess = "RESP_SUCCESS"
	RespData    = "RESP_DATA"
	RespError   = "RESP_ERROR"
)

// Event types (server → client, uncorrelated).
const (
	EventWelcome           = "EVENT_WELCOME"
	EventStateUpdate       = "EVENT_STATE_UPDATE"
	EventPlayerJoined      = "EVENT_PLAYER_JOINED"
	EventPlayerLeft        = "EVENT_PLAYER_LEFT"
	EventChatMessage       = "EVENT_CHAT_MESSAGE"
	EventCombatAction      = "EVENT_COMBAT_ACTION"
	EventGroundItemAdded   = "EVENT_GROUND_ITEM_ADDED"
	EventGroundItemRemoved = "EVENT_GROUND_ITEM_REMOVED"
	EventPlayerDied        = "PLAYER_DIED"
	EventPlayerRespawn     = "PLAYER_RESPAWN"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core-deterministic encoding so identical payloads always produce
	// identical bytes; the visibility diff relies on byte comparison.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: dec mode: %v", err))
	}
}

// Marshal encodes any payload with the deterministic encoder.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode builds a full frame: envelope with the given correlation id, type
// and payload. A nil payload produces an envelope without a payload field.
func Encode(id, msgType string, payload any) ([]byte, error) {
	msg := Message{ID: id, Type: msgType, Version: ProtocolVersion}
	if payload != nil {
		raw, err := encMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}
	data, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	return data, nil
}

// EncodeEvent builds an uncorrelated server event frame.
func EncodeEvent(msgType string, payload any) ([]byte, error) {
	return Encode("", msgType, payload)
}

// Decode parses one frame into a Message. The payload stays raw; handlers
// decode it with DecodePayload once they know the concrete type.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := decMode.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode frame: missing type")
	}
	return msg, nil
}

// DecodePayload decodes the message payload into v. An absent payload decodes
// into the zero value.
func DecodePayload(msg Message, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := decMode.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}
