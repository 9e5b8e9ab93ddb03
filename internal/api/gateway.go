// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hivemux/hivemux/internal/config"
	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/metrics"
	"github.com/hivemux/hivemux/internal/realtime"
	"github.com/hivemux/hivemux/internal/token"
)

// Gateway authenticates WebSocket upgrade requests and hands accepted
// connections to the entity registry. Token issuance is owned by the
// external auth layer; the gateway only verifies.
type Gateway struct {
	codec    *token.Codec
	registry *realtime.Registry
	upgrader websocket.Upgrader
}

// NewGateway builds the gateway. codec may be nil when the token secret is
// unconfigured; every upgrade then fails closed with 500.
func NewGateway(codec *token.Codec, registry *realtime.Registry, cfg *config.Config) *Gateway {
	origins := make(map[string]struct{}, len(cfg.Security.CORSOrigins))
	allowAll := len(cfg.Security.CORSOrigins) == 0
	for _, o := range cfg.Security.CORSOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return &Gateway{
		codec:    codec,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin header.
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// Connect upgrades a conversation participant: GET /api/ws/connect?token=...
func (g *Gateway) Connect(w http.ResponseWriter, r *http.Request) {
	claims, ok := g.authenticate(w, r, realtime.KindConversation)
	if !ok {
		return
	}
	if claims.UserID == 0 || claims.ConversationID == 0 {
		g.reject(w, r, realtime.KindConversation, "invalid_identity",
			http.StatusUnauthorized, "Invalid session token")
		return
	}
	g.accept(w, r, realtime.KindConversation, claims.ConversationID, &realtime.ConversationAttachment{
		UserID:         claims.UserID,
		ConversationID: claims.ConversationID,
	})
}

// CartConnect upgrades a cart viewer: GET /api/ws/cart-connect?token=...
func (g *Gateway) CartConnect(w http.ResponseWriter, r *http.Request) {
	claims, ok := g.authenticate(w, r, realtime.KindCart)
	if !ok {
		return
	}
	// The role claim is required identity, same as the ids: a token without
	// one is rejected, never defaulted.
	role := realtime.Role(claims.Role)
	if claims.UserID == 0 || claims.CartUserID == 0 || !role.Valid() {
		g.reject(w, r, realtime.KindCart, "invalid_identity",
			http.StatusUnauthorized, "Invalid session token")
		return
	}
	g.accept(w, r, realtime.KindCart, claims.CartUserID, &realtime.CartAttachment{
		UserID:     claims.UserID,
		CartUserID: claims.CartUserID,
		Role:       role,
	})
}

// UserConnect upgrades a personal notification channel:
// GET /api/ws/user-connect?token=...
func (g *Gateway) UserConnect(w http.ResponseWriter, r *http.Request) {
	claims, ok := g.authenticate(w, r, realtime.KindUser)
	if !ok {
		return
	}
	if claims.UserID == 0 {
		g.reject(w, r, realtime.KindUser, "invalid_identity",
			http.StatusUnauthorized, "Invalid session token")
		return
	}
	g.accept(w, r, realtime.KindUser, claims.UserID, &realtime.UserAttachment{
		UserID: claims.UserID,
	})
}

// authenticate runs the checks shared by all three endpoints: token
// presence, secret configuration, and signature/expiry verification.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request, kind realtime.Kind) (*token.Claims, bool) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		g.reject(w, r, kind, "missing_token", http.StatusUnauthorized, "Missing token")
		return nil, false
	}
	if g.codec == nil {
		// No signing secret configured. Never degrade to accepting
		// unverifiable tokens.
		g.reject(w, r, kind, "server_config", http.StatusInternalServerError, "Server configuration error")
		return nil, false
	}

	claims, err := g.codec.VerifyClaims(tok)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Str("kind", string(kind)).
			Msg("upgrade token rejected")
		g.reject(w, r, kind, "invalid_token", http.StatusUnauthorized, err.Error())
		return nil, false
	}
	return claims, true
}

// accept finishes the upgrade and attaches the connection to its actor.
//
// The upgrade-header check deliberately runs after the token and identity
// checks: a request that could never be authorized gets 401 even when it is
// also not a WebSocket upgrade, so 426 is only seen by callers that already
// hold a usable token.
func (g *Gateway) accept(w http.ResponseWriter, r *http.Request, kind realtime.Kind, id int64, att realtime.Attachment) {
	if !websocket.IsWebSocketUpgrade(r) {
		g.reject(w, r, kind, "not_websocket", http.StatusUpgradeRequired, "WebSocket upgrade required")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		metrics.UpgradesRejected.WithLabelValues(string(kind), "upgrade_failed").Inc()
		logging.Ctx(r.Context()).Warn().Err(err).Str("kind", string(kind)).Msg("websocket upgrade failed")
		return
	}

	actor := g.registry.GetOrCreate(kind, id)
	if _, err := actor.Attach(ws, att); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("entity_key", actor.Key()).
			Msg("failed to attach upgraded connection")
		_ = ws.Close()
	}
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, kind realtime.Kind, reason string, status int, message string) {
	metrics.UpgradesRejected.WithLabelValues(string(kind), reason).Inc()
	logging.Ctx(r.Context()).Debug().Str("kind", string(kind)).Str("reason", reason).
		Int("status", status).Msg("upgrade rejected")
	respondError(w, status, reason, message)
}
