// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package services

import (
	"context"

	"github.com/hivemux/hivemux/internal/realtime"
)

// ReaperService runs the registry's idle-actor reaper as a supervised
// service. On shutdown the registry closes every live connection.
type ReaperService struct {
	registry *realtime.Registry
}

// NewReaperService wraps registry as a supervised service.
func NewReaperService(registry *realtime.Registry) *ReaperService {
	return &ReaperService{registry: registry}
}

// Serve implements suture.Service.
func (s *ReaperService) Serve(ctx context.Context) error {
	return s.registry.RunWithContext(ctx)
}

// String identifies the service in supervisor logs.
func (s *ReaperService) String() string {
	return "actor-reaper"
}
