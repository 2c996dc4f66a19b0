package wire

import "strconv"

// Stable entity-identifier prefixes used in visibility payloads and combat
// events. Weak references: an id may resolve to nothing by the time the
// client acts on it.
func PlayerRef(id int64) string     { return "player:" + strconv.FormatInt(id, 10) }
func EntityRef(id int64) string     { return "entity:" + strconv.FormatInt(id, 10) }
func GroundItemRef(id int64) string { return "ground_item:" + strconv.FormatInt(id, 10) }

// --- Command payloads (client → server) ---

type AuthenticatePayload struct {
	Token string `cbor:"token"`
}

type MovePayload struct {
	Direction string `cbor:"direction"` // up, down, left, right
}

type AttackPayload struct {
	TargetType string `cbor:"target_type"` // player | entity
	TargetID   int64  `cbor:"target_id"`
}

type ToggleAutoRetaliatePayload struct {
	Enabled bool `cbor:"enabled"`
}

type InventoryMovePayload struct {
	FromSlot int `cbor:"from_slot"`
	ToSlot   int `cbor:"to_slot"`
}

type InventorySortPayload struct {
	SortBy string `cbor:"sort_by"` // name, value, quantity
}

type ItemEquipPayload struct {
	InventorySlot int `cbor:"inventory_slot"`
}

type ItemUnequipPayload struct {
	EquipmentSlot string `cbor:"equipment_slot"`
}

type ItemDropPayload struct {
	InventorySlot int   `cbor:"inventory_slot"`
	Quantity      int32 `cbor:"quantity"`
}

type ItemPickupPayload struct {
	GroundItemID int64 `cbor:"ground_item_id"`
}

type ChatMessagePayload struct {
	Channel string `cbor:"channel"` // say, global, whisper
	Message string `cbor:"message"`
	To      string `cbor:"to,omitempty"` // whisper recipient username
}

type SetAppearancePayload struct {
	Appearance map[string]string `cbor:"appearance"`
}

type MapChunksQuery struct {
	CenterX int32 `cbor:"center_x"`
	CenterY int32 `cbor:"center_y"`
	Radius  int32 `cbor:"radius"`
}

// AdminPayload carries role-gated commands: teleport, kick, ban, timeout,
// heal, grant.
type AdminPayload struct {
	Action   string `cbor:"action"`
	Target   string `cbor:"target,omitempty"` // username
	MapID    int32  `cbor:"map_id,omitempty"`
	X        int32  `cbor:"x,omitempty"`
	Y        int32  `cbor:"y,omitempty"`
	ItemKind int32  `cbor:"item_kind,omitempty"`
	Quantity int32  `cbor:"quantity,omitempty"`
	Minutes  int32  `cbor:"minutes,omitempty"`
	Reason   string `cbor:"reason,omitempty"`
}

// --- Shared payload fragments ---

type PositionPayload struct {
	MapID int32 `cbor:"map_id"`
	X     int32 `cbor:"x"`
	Y     int32 `cbor:"y"`
}

// EntityPayload is one entry of EVENT_STATE_UPDATE.entities. It covers the
// three entity families; family-specific fields are omitted when empty.
type EntityPayload struct {
	ID         string            `cbor:"id"`   // player:<n> | entity:<n> | ground_item:<n>
	Kind       string            `cbor:"kind"` // player | entity | ground_item
	KindID     int32             `cbor:"kind_id,omitempty"`
	Name       string            `cbor:"name,omitempty"`
	X          int32             `cbor:"x"`
	Y          int32             `cbor:"y"`
	HP         int32             `cbor:"hp,omitempty"`
	MaxHP      int32             `cbor:"max_hp,omitempty"`
	State      string            `cbor:"state,omitempty"`
	Facing     string            `cbor:"facing,omitempty"`
	Anim       string            `cbor:"anim,omitempty"`
	Attackable bool              `cbor:"is_attackable"`
	Quantity   int32             `cbor:"quantity,omitempty"`
	Cosmetics  map[string]string `cbor:"cosmetics,omitempty"`
	VisualHash uint32            `cbor:"visual_hash,omitempty"`
}

type ItemStackPayload struct {
	Slot       int    `cbor:"slot"`
	KindID     int32  `cbor:"kind_id"`
	Name       string `cbor:"name"`
	Quantity   int32  `cbor:"quantity"`
	Durability int32  `cbor:"durability,omitempty"`
}

type SkillPayload struct {
	Skill    string  `cbor:"skill"`
	Level    int     `cbor:"level"`
	XP       int64   `cbor:"xp"`
	NextAt   int64   `cbor:"next_level_at"`
	Progress float64 `cbor:"progress"`
}

// --- Response payloads ---

type MoveResult struct {
	Position PositionPayload `cbor:"position"`
	Facing   string          `cbor:"facing"`
}

type InventorySortResult struct {
	ItemsMoved   int `cbor:"items_moved"`
	StacksMerged int `cbor:"stacks_merged"`
}

type InventorySnapshot struct {
	Slots    []ItemStackPayload `cbor:"slots"`
	Capacity int                `cbor:"capacity"`
}

type EquipmentSnapshot struct {
	Slots map[string]ItemStackPayload `cbor:"slots"`
}

type StatsSnapshot struct {
	HP     int32          `cbor:"hp"`
	MaxHP  int32          `cbor:"max_hp"`
	Skills []SkillPayload `cbor:"skills"`
}

type ChunkLayerPayload struct {
	Name      string   `cbor:"name"`
	Collision bool     `cbor:"collision"`
	Tiles     []uint32 `cbor:"tiles"`
}

type ChunkPayload struct {
	ChunkX int32               `cbor:"chunk_x"`
	ChunkY int32               `cbor:"chunk_y"`
	Layers []ChunkLayerPayload `cbor:"layers"`
}

type MapChunksResult struct {
	MapID     int32          `cbor:"map_id"`
	ChunkSize int32          `cbor:"chunk_size"`
	TileSize  int32          `cbor:"tile_size"`
	Chunks    []ChunkPayload `cbor:"chunks"`
}

// --- Event payloads ---

type WelcomeConfig struct {
	MoveCooldownMS      int64 `cbor:"move_cooldown"`
	AnimationDurationMS int64 `cbor:"animation_duration"`
	ProtocolVersion     int   `cbor:"protocol_version"`
}

type WelcomePayload struct {
	PlayerID   int64             `cbor:"player_id"`
	Username   string            `cbor:"username"`
	Role       string            `cbor:"role"`
	Position   PositionPayload   `cbor:"position"`
	HP         int32             `cbor:"hp"`
	MaxHP      int32             `cbor:"max_hp"`
	Appearance map[string]string `cbor:"appearance,omitempty"`
	MOTD       string            `cbor:"motd,omitempty"`
	Config     WelcomeConfig     `cbor:"config"`
}

type StateUpdatePayload struct {
	Entities        []EntityPayload `cbor:"entities,omitempty"`
	RemovedEntities []string        `cbor:"removed_entities,omitempty"`
	MapID           int32           `cbor:"map_id"`
}

type PlayerJoinedPayload struct {
	PlayerID int64           `cbor:"player_id"`
	Username string          `cbor:"username"`
	Position PositionPayload `cbor:"position"`
}

type PlayerLeftPayload struct {
	PlayerID int64  `cbor:"player_id"`
	Username string `cbor:"username"`
}

type ChatEventPayload struct {
	Channel  string           `cbor:"channel"`
	From     string           `cbor:"from"`
	Message  string           `cbor:"message"`
	Position *PositionPayload `cbor:"position,omitempty"` // say only
}

type CombatActionPayload struct {
	Attacker   string `cbor:"attacker"`
	Defender   string `cbor:"defender"`
	DidHit     bool   `cbor:"did_hit"`
	Damage     int32  `cbor:"damage"`
	DefenderHP int32  `cbor:"defender_hp"`
	Died       bool   `cbor:"defender_died"`
	Message    string `cbor:"message,omitempty"`
}

type GroundItemAddedPayload struct {
	ID       int64  `cbor:"id"`
	KindID   int32  `cbor:"kind_id"`
	Name     string `cbor:"name"`
	Rarity   string `cbor:"rarity"`
	X        int32  `cbor:"x"`
	Y        int32  `cbor:"y"`
	Quantity int32  `cbor:"quantity"`
}

type GroundItemRemovedPayload struct {
	ID int64 `cbor:"id"`
}

type PlayerDiedPayload struct {
	PlayerID int64           `cbor:"player_id"`
	Position PositionPayload `cbor:"position"`
}

type PlayerRespawnPayload struct {
	PlayerID int64           `cbor:"player_id"`
	Position PositionPayload `cbor:"position"`
	HP       int32           `cbor:"hp"`
	MaxHP    int32           `cbor:"max_hp"`
}
