// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

// Package api is the HTTP edge: the WebSocket upgrade gateway, the internal
// broadcast endpoint, and the operational endpoints (health, stats, metrics),
// routed with chi.
package api
