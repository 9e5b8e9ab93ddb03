// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/hivemux/hivemux/internal/logging"
)

// FrameRouter dispatches one decoded client frame for one entity kind.
// Routers must never panic and must never close the connection for a merely
// malformed frame; only attachment loss escalates to a close, and that is
// handled before the router runs.
type FrameRouter interface {
	HandleFrame(a *Actor, c *Conn, frame []byte)
}

// routerFor returns the frame router for an entity kind.
func routerFor(kind Kind) FrameRouter {
	switch kind {
	case KindConversation:
		return conversationRouter{}
	case KindCart:
		return cartRouter{}
	default:
		return userRouter{}
	}
}

// decodeEnvelope parses the type discriminator out of a client frame,
// replying with an INVALID_JSON error frame on failure.
func decodeEnvelope(c *Conn, frame []byte) (inboundEnvelope, bool) {
	var env inboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.sendError(ErrCodeInvalidJSON, "Frame is not valid JSON")
		return env, false
	}
	return env, true
}

// conversationRouter handles typing indicators and read receipts. Unknown
// types get an error reply to the sender only; other participants never see
// anything for a bad frame.
type conversationRouter struct{}

func (conversationRouter) HandleFrame(a *Actor, c *Conn, frame []byte) {
	env, ok := decodeEnvelope(c, frame)
	if !ok {
		return
	}

	att, ok := c.attachment.(*ConversationAttachment)
	if !ok {
		c.sendError(ErrCodeSessionExpired, "Session expired, please reconnect")
		c.closePolicyViolation("session expired")
		return
	}

	switch env.Type {
	case MessageTypeTyping:
		_, err := a.BroadcastToOthers(c, TypingEvent{
			Type:           MessageTypeTyping,
			UserID:         att.UserID,
			ConversationID: att.ConversationID,
		})
		if err != nil {
			logging.Error().Err(err).Str("entity_key", a.key).Msg("failed to broadcast typing event")
		}

	case MessageTypeRead:
		_, err := a.BroadcastToOthers(c, ReadEvent{
			Type:           MessageTypeRead,
			UserID:         att.UserID,
			ConversationID: att.ConversationID,
			Timestamp:      time.Now().UnixMilli(),
		})
		if err != nil {
			logging.Error().Err(err).Str("entity_key", a.key).Msg("failed to broadcast read event")
		}

	case MessageTypePing, MessageTypePong:
		// Keep-alive traffic is owned by the fast path and the protocol
		// layer; a JSON ping that reaches here was already answered.

	default:
		c.sendError(ErrCodeUnknownMessageType, "Unknown message type: "+env.Type)
	}
}

// cartRouter serves a notification-only channel. Clients are not expected
// to send meaningful frames; unexpected types are logged, never errored.
type cartRouter struct{}

func (cartRouter) HandleFrame(a *Actor, c *Conn, frame []byte) {
	env, ok := decodeEnvelope(c, frame)
	if !ok {
		return
	}

	switch env.Type {
	case MessageTypePing, MessageTypePong:
	default:
		logging.Warn().Str("entity_key", a.key).Object("attachment", c.attachment).
			Str("message_type", env.Type).Msg("unexpected frame on cart channel")
	}
}

// userRouter serves a notification-only channel. A JSON ping is answered
// defensively in case a client bypasses the fast path; everything else is
// logged only.
type userRouter struct{}

func (userRouter) HandleFrame(a *Actor, c *Conn, frame []byte) {
	env, ok := decodeEnvelope(c, frame)
	if !ok {
		return
	}

	switch env.Type {
	case MessageTypePing:
		c.enqueue(pongFrame)
	case MessageTypePong:
	default:
		logging.Warn().Str("entity_key", a.key).Object("attachment", c.attachment).
			Str("message_type", env.Type).Msg("unexpected frame on user channel")
	}
}
