package handler

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tilemud/server/internal/auth"
	"github.com/tilemud/server/internal/wire"
	"github.com/tilemud/server/internal/world"
)

// Chat channels. The system channel is server-originated only; a client
// frame naming it is rejected like any other unknown channel.
const (
	ChannelSay     = "say"
	ChannelGlobal  = "global"
	ChannelWhisper = "whisper"
	ChannelSystem  = "system"
)

// handleChat fans a chat line out to its channel's audience. Messages are
// NFC-normalized so visually identical text compares and renders identically
// on every client.
func (h *Handler) handleChat(ctx context.Context, p player, msg wire.Message) error {
	var req wire.ChatMessagePayload
	if err := wire.DecodePayload(msg, &req); err != nil {
		return badPayload(msg)
	}
	text := strings.TrimSpace(norm.NFC.String(req.Message))
	if text == "" {
		return wire.Validation(wire.CodeChatEmptyMessage, "message is empty")
	}
	if utf8.RuneCountInString(text) > h.cfg.Game.MaxChatLength {
		return wire.Validation(wire.CodeChatMessageTooLong, "message is too long").
			WithDetail("max_length", h.cfg.Game.MaxChatLength)
	}

	switch req.Channel {
	case ChannelSay:
		st, err := h.store.GetPlayerState(ctx, p.ID)
		if err != nil {
			return err
		}
		frame, err := wire.EncodeEvent(wire.EventChatMessage, wire.ChatEventPayload{
			Channel:  ChannelSay,
			From:     p.Username,
			Message:  text,
			Position: &wire.PositionPayload{MapID: st.Pos.MapID, X: st.Pos.X, Y: st.Pos.Y},
		})
		if err != nil {
			return err
		}
		h.sessions.ToPlayers(h.earshot(ctx, st), frame)

	case ChannelGlobal:
		frame, err := wire.EncodeEvent(wire.EventChatMessage, wire.ChatEventPayload{
			Channel: ChannelGlobal,
			From:    p.Username,
			Message: text,
		})
		if err != nil {
			return err
		}
		h.sessions.ToPlayers(h.store.OnlinePlayers(), frame)

	case ChannelWhisper:
		to, err := auth.NormalizeUsername(req.To)
		if err != nil {
			return wire.Validation(wire.CodeChatUnknownPlayer, "no such player")
		}
		targetID, ok := h.sessions.LookupID(to)
		if !ok {
			return wire.Validation(wire.CodeChatUnknownPlayer, "no such player online")
		}
		frame, err := wire.EncodeEvent(wire.EventChatMessage, wire.ChatEventPayload{
			Channel: ChannelWhisper,
			From:    p.Username,
			Message: text,
		})
		if err != nil {
			return err
		}
		h.sessions.ToPlayer(targetID, frame)
		if targetID != p.ID {
			// sender sees their own whisper too
			h.sessions.ToPlayer(p.ID, frame)
		}

	default:
		return wire.Validation(wire.CodeChatInvalidChannel, "unknown channel "+req.Channel)
	}

	h.success(p.ID, msg.ID)
	return nil
}

// earshot lists the players on the speaker's map within the say radius.
func (h *Handler) earshot(ctx context.Context, speaker *world.PlayerState) []int64 {
	var out []int64
	for _, id := range h.sessions.PlayersOnMap(speaker.Pos.MapID) {
		other, err := h.store.GetPlayerState(ctx, id)
		if err != nil {
			continue
		}
		if world.Dist(speaker.Pos, other.Pos) <= h.cfg.Game.SayRadius {
			out = append(out, id)
		}
	}
	return out
}
