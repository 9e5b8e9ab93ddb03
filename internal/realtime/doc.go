// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

// Package realtime implements per-entity WebSocket actors.
//
// An Actor is the unit of fan-out: one instance per logical entity
// (conversation, cart, or user), holding the set of live connections for
// that entity and nothing else. Actors are created on demand by the
// Registry, keyed by "{kind}-{entityId}", and evicted by a reaper once they
// have been empty for a configurable TTL.
//
// Each connection carries an immutable Attachment fixed at accept time.
// Re-authentication requires a new connection, never an attachment update.
//
// Delivery is best-effort and independent per socket: a connection that is
// dead or backlogged at broadcast time is dropped and the event still
// reaches every other connection. Nothing is buffered for disconnected
// clients and no ordering is imposed across broadcasts; consumers that need
// ordering embed their own sequence data in event payloads.
//
// One goroutine pair (read pump, write pump) serves each connection, the
// gorilla/websocket idiom. Actor state is guarded by a per-actor mutex, so
// actors for different entities never contend with each other.
package realtime
