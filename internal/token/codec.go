// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

// Package token implements the compact bearer tokens that authorize
// WebSocket upgrades.
//
// Wire format: base64url(payload JSON) + "." + base64url(HMAC-SHA256 sig).
// The signature is computed over the raw base64url payload segment, not the
// decoded bytes. Tokens are stateless: validity is purely a function of
// signature and expiry, nothing is persisted or revocable server-side.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Verification failure kinds. They are distinguished in logs and in the
// gateway's 401 reason, but never reveal more than which check failed.
var (
	// ErrInvalidFormat means the token does not split into exactly two
	// non-empty dot-separated segments.
	ErrInvalidFormat = errors.New("invalid token format")

	// ErrInvalidSignature means the HMAC-SHA256 signature did not verify.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrInvalidPayload means the payload segment is not base64url-encoded
	// JSON, or decodes to something other than a JSON object.
	ErrInvalidPayload = errors.New("invalid token payload")

	// ErrExpired means the payload carries an exp that is not strictly in
	// the future.
	ErrExpired = errors.New("token expired")
)

// Claims is the superset of identity fields carried by upgrade tokens.
// Each gateway endpoint requires its own subset to be non-zero.
type Claims struct {
	UserID         int64  `json:"userId"`
	ConversationID int64  `json:"conversationId,omitempty"`
	CartUserID     int64  `json:"cartUserId,omitempty"`
	Role           string `json:"role,omitempty"`
	Exp            int64  `json:"exp,omitempty"`
}

// Codec signs and verifies bearer tokens with a server-held secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a Codec. The secret must be non-empty; an unconfigured
// secret is an operator error and the caller must fail closed.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret is required but was empty")
	}
	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

// Sign encodes payload as JSON and returns the signed compact token.
// Issuance normally happens in the externally-owned auth layer; Sign exists
// for that layer's tooling and for tests.
func (c *Codec) Sign(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}
	seg := base64.RawURLEncoding.EncodeToString(raw)

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(seg))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return seg + "." + sig, nil
}

// Verify checks a compact token and returns its raw JSON payload.
//
// Checks, in order: format (exactly two non-empty segments), signature
// (HMAC-SHA256 over the raw payload segment, constant-time compare), payload
// (base64url JSON object), expiry (exp strictly in the future when present).
func (c *Codec) Verify(tok string) (json.RawMessage, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidFormat
	}

	claimed, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(parts[0]))
	// hmac.Equal, never a byte-equality loop on attacker-controlled bytes.
	if !hmac.Equal(mac.Sum(nil), claimed) {
		return nil, ErrInvalidSignature
	}

	payload, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, ErrInvalidPayload
	}
	// JSON null unmarshals into a nil map without error; it is not an object.
	if obj == nil {
		return nil, ErrInvalidPayload
	}

	if expVal, ok := obj["exp"]; ok {
		exp, ok := expVal.(float64)
		if !ok {
			return nil, ErrInvalidPayload
		}
		if int64(exp) <= c.now().Unix() {
			return nil, ErrExpired
		}
	}

	return payload, nil
}

// VerifyClaims verifies a token and decodes its payload into Claims.
func (c *Codec) VerifyClaims(tok string) (*Claims, error) {
	payload, err := c.Verify(tok)
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, ErrInvalidPayload
	}
	return claims, nil
}

// decodeSegment decodes a base64url segment, accepting both padded and
// unpadded encodings.
func decodeSegment(seg string) ([]byte, error) {
	if strings.ContainsRune(seg, '=') {
		return base64.URLEncoding.DecodeString(seg)
	}
	return base64.RawURLEncoding.DecodeString(seg)
}
