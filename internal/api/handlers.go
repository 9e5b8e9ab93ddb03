// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package api

import (
	"net/http"
	"time"

	"github.com/hivemux/hivemux/internal/realtime"
)

// HealthLive reports process liveness. It has no dependencies; if this
// handler runs, the process is alive.
func HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness to accept connections. The service holds no
// external dependencies, so readiness follows liveness.
func HealthReady(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatsResponse is the diagnostics payload for the stats endpoint.
type StatsResponse struct {
	Kinds     map[realtime.Kind]realtime.KindStats `json:"kinds"`
	Timestamp int64                                `json:"timestamp"`
}

// StatsHandler reports per-kind actor and connection counts.
func StatsHandler(registry *realtime.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, StatsResponse{
			Kinds:     registry.Stats(),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}
