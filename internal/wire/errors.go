package wire

import "time"

// Error categories.
const (
	CategoryValidation = "VALIDATION"
	CategoryRateLimit  = "RATE_LIMIT"
	CategoryAuth       = "AUTH"
	CategorySystem     = "SYSTEM"
)

// Error codes surfaced in RESP_ERROR payloads.
const (
	CodeMoveInvalidDirection  = "MOVE_INVALID_DIRECTION"
	CodeMoveRateLimited       = "MOVE_RATE_LIMITED"
	CodeMoveCollisionDetected = "MOVE_COLLISION_DETECTED"

	CodeInvInvalidSlot          = "INV_INVALID_SLOT"
	CodeInvSlotEmpty            = "INV_SLOT_EMPTY"
	CodeInvInventoryFull        = "INV_INVENTORY_FULL"
	CodeInvInsufficientQuantity = "INV_INSUFFICIENT_QUANTITY"

	CodeEqInvalidSlot          = "EQ_INVALID_SLOT"
	CodeEqItemNotEquipable     = "EQ_ITEM_NOT_EQUIPABLE"
	CodeEqLevelTooLow          = "EQ_LEVEL_TOO_LOW"
	CodeEqCannotUnequipFullInv = "EQ_CANNOT_UNEQUIP_FULL_INV"

	CodeGroundItemNotFound = "GROUND_ITEM_NOT_FOUND"
	CodeMapInvalidCoords   = "MAP_INVALID_COORDS"

	CodeCombatInvalidTarget = "COMBAT_INVALID_TARGET"
	CodeCombatOutOfRange    = "COMBAT_OUT_OF_RANGE"
	CodeCombatAttackerDead  = "COMBAT_ATTACKER_DEAD"
	CodeCombatRateLimited   = "COMBAT_RATE_LIMITED"

	CodeChatInvalidChannel = "CHAT_INVALID_CHANNEL"
	CodeChatUnknownPlayer  = "CHAT_UNKNOWN_PLAYER"
	CodeChatEmptyMessage   = "CHAT_EMPTY_MESSAGE"
	CodeChatMessageTooLong = "CHAT_MESSAGE_TOO_LONG"

	CodePlayerDead        = "PLAYER_DEAD"
	CodeAppearanceInvalid = "APPEARANCE_INVALID"

	CodeAdminForbidden     = "ADMIN_FORBIDDEN"
	CodeAdminInvalidAction = "ADMIN_INVALID_ACTION"
	CodeAdminUnknownTarget = "ADMIN_UNKNOWN_TARGET"

	CodeMalformedFrame = "MALFORMED_FRAME"
	CodeUnknownCommand = "UNKNOWN_COMMAND"

	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAuthInvalidToken = "AUTH_INVALID_TOKEN"
	CodeAuthBanned       = "AUTH_BANNED"
	CodeAuthTimedOut     = "AUTH_TIMED_OUT"
	CodeServerFull       = "SERVER_FULL"

	CodeSysInternalError = "SYS_INTERNAL_ERROR"
)

// Error is the structured failure carried by RESP_ERROR. It implements the
// error interface so handlers can return it directly; anything that is not a
// *wire.Error surfaces to the client as SYS_INTERNAL_ERROR with the detail
// redacted.
type Error struct {
	Code            string         `cbor:"code"`
	Category        string         `cbor:"category"`
	Message         string         `cbor:"message"`
	Details         map[string]any `cbor:"details,omitempty"`
	SuggestedAction string         `cbor:"suggested_action,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Validation builds a VALIDATION-category error.
func Validation(code, message string) *Error {
	return &Error{Code: code, Category: CategoryValidation, Message: message}
}

// RateLimited builds a RATE_LIMIT-category error carrying the remaining
// cooldown in milliseconds.
func RateLimited(code, message string, remaining time.Duration) *Error {
	return &Error{
		Code:            code,
		Category:        CategoryRateLimit,
		Message:         message,
		Details:         map[string]any{"cooldown_remaining": remaining.Milliseconds()},
		SuggestedAction: "retry after cooldown_remaining",
	}
}

// Auth builds an AUTH-category error.
func Auth(code, message string) *Error {
	return &Error{Code: code, Category: CategoryAuth, Message: message}
}

// System builds the generic internal error; callers log the real cause.
func System() *Error {
	return &Error{
		Code:     CodeSysInternalError,
		Category: CategorySystem,
		Message:  "internal server error",
	}
}

// WithDetail returns e with one extra detail field set.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithSuggestion returns e with the suggested client action set.
func (e *Error) WithSuggestion(action string) *Error {
	e.SuggestedAction = action
	return e
}
