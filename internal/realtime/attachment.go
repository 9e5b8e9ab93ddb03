// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Kind identifies which entity family an actor belongs to.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindCart         Kind = "cart"
	KindUser         Kind = "user"
)

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConversation, KindCart, KindUser:
		return true
	}
	return false
}

// ParseKind converts a path segment into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// EntityKey builds the routing key for one logical entity, e.g.
// "conversation-42".
func EntityKey(kind Kind, id int64) string {
	return fmt.Sprintf("%s-%d", kind, id)
}

// Role distinguishes who is driving a cart connection.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known cart role.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAgent
}

// Attachment is the immutable identity fixed onto a connection when it is
// accepted. It is the only state that outlives a single handler invocation,
// so every field needed for authorization and logging lives here.
type Attachment interface {
	zerolog.LogObjectMarshaler

	// Kind returns the entity family this attachment belongs to.
	Kind() Kind

	// EntityID returns the id that forms the entity key.
	EntityID() int64

	// Validate reports whether the attachment carries the identity its kind
	// requires. A connection whose attachment fails validation has lost its
	// authorization context and is closed as an expired session.
	Validate() error
}

var errIncompleteAttachment = errors.New("attachment is missing required identity fields")

// ConversationAttachment identifies a participant in one conversation.
type ConversationAttachment struct {
	UserID         int64 `json:"userId"`
	ConversationID int64 `json:"conversationId"`
}

func (a *ConversationAttachment) Kind() Kind      { return KindConversation }
func (a *ConversationAttachment) EntityID() int64 { return a.ConversationID }

func (a *ConversationAttachment) Validate() error {
	if a == nil || a.UserID == 0 || a.ConversationID == 0 {
		return errIncompleteAttachment
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (a *ConversationAttachment) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("user_id", a.UserID).Int64("conversation_id", a.ConversationID)
}

// CartAttachment identifies a viewer of one cart, either the cart's owner
// or a support agent assisting them.
type CartAttachment struct {
	UserID     int64 `json:"userId"`
	CartUserID int64 `json:"cartUserId"`
	Role       Role  `json:"role"`
}

func (a *CartAttachment) Kind() Kind      { return KindCart }
func (a *CartAttachment) EntityID() int64 { return a.CartUserID }

func (a *CartAttachment) Validate() error {
	if a == nil || a.UserID == 0 || a.CartUserID == 0 {
		return errIncompleteAttachment
	}
	if !a.Role.Valid() {
		return fmt.Errorf("invalid cart role %q", a.Role)
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (a *CartAttachment) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("user_id", a.UserID).Int64("cart_user_id", a.CartUserID).Str("role", string(a.Role))
}

// UserAttachment identifies one user's personal notification channel.
type UserAttachment struct {
	UserID int64 `json:"userId"`
}

func (a *UserAttachment) Kind() Kind      { return KindUser }
func (a *UserAttachment) EntityID() int64 { return a.UserID }

func (a *UserAttachment) Validate() error {
	if a == nil || a.UserID == 0 {
		return errIncompleteAttachment
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (a *UserAttachment) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("user_id", a.UserID)
}
