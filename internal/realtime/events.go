// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import "github.com/goccy/go-json"

// Message types exchanged over WebSocket connections. All frames are JSON
// text frames with a discriminating "type" field.
const (
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeError = "error"

	// Conversation events
	MessageTypeMessage = "message"
	MessageTypeTyping  = "typing"
	MessageTypeRead    = "read"

	// Cart events (server-originated only)
	MessageTypeItemAdded   = "item_added"
	MessageTypeItemRemoved = "item_removed"
	MessageTypeItemUpdated = "item_updated"
	MessageTypeCartCleared = "cart_cleared"

	// User events (server-originated only)
	MessageTypeUnreadCountChanged = "unread_count_changed"
)

// Error codes carried by error frames. Only SessionExpired closes the
// connection; the rest degrade a single frame and keep the socket open.
const (
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeDecodeError        = "DECODE_ERROR"
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
)

// pingLiteral is the exact keep-alive frame answered on the fast path
// without touching a frame router, and pongFrame is its reply.
const pingLiteral = `{"type":"ping"}`

var pongFrame = []byte(`{"type":"pong"}`)

// ErrorFrame is the structured error reply sent to a misbehaving client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// TypingEvent tells a conversation's other participants that someone is
// typing. Never echoed to its sender.
type TypingEvent struct {
	Type           string `json:"type"`
	UserID         int64  `json:"userId"`
	ConversationID int64  `json:"conversationId"`
}

// ReadEvent tells a conversation's other participants that someone caught
// up. Timestamp is unix milliseconds, stamped server-side.
type ReadEvent struct {
	Type           string `json:"type"`
	UserID         int64  `json:"userId"`
	ConversationID int64  `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

// TriggeredBy marks which role caused a cart mutation so clients can
// distinguish self-service from agent-assisted changes.
type TriggeredBy struct {
	Role Role `json:"role"`
}

// CartEvent is the shape of server-originated cart notifications. Item is
// passed through opaquely; the cart service owns its schema.
type CartEvent struct {
	Type        string          `json:"type"`
	Item        json.RawMessage `json:"item,omitempty"`
	TriggeredBy TriggeredBy     `json:"triggeredBy"`
}

// UnreadCountEvent notifies a user's sockets of their new unread total.
type UnreadCountEvent struct {
	Type      string `json:"type"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// inboundEnvelope is the minimal decode of a client frame: just enough to
// dispatch on type.
type inboundEnvelope struct {
	Type string `json:"type"`
}
