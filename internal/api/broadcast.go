// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package api

import (
	"bytes"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/hivemux/hivemux/internal/logging"
	"github.com/hivemux/hivemux/internal/metrics"
	"github.com/hivemux/hivemux/internal/realtime"
)

// secretHeader authenticates service-to-service broadcast calls.
const secretHeader = "X-Internal-Secret"

// maxBroadcastBody bounds the request body; events are small notifications,
// not payload transport.
const maxBroadcastBody = 1 << 20

// BroadcastHandler serves POST /broadcast/{kind}/{id}: the internal path by
// which stateless request handlers push an event to every socket attached to
// an entity.
type BroadcastHandler struct {
	secret   string
	registry *realtime.Registry
	validate *validator.Validate
}

// NewBroadcastHandler builds the handler. An empty secret disables the
// endpoint: every call is rejected 401 rather than accepted unauthenticated.
func NewBroadcastHandler(secret string, registry *realtime.Registry) *BroadcastHandler {
	return &BroadcastHandler{
		secret:   secret,
		registry: registry,
		validate: validator.New(),
	}
}

// BroadcastRequest is the body of a broadcast call. Event carries an
// arbitrary JSON object fanned out verbatim; the narrow Type/Count form is
// the user-channel unread counter update.
type BroadcastRequest struct {
	Action string          `json:"action" validate:"required,eq=broadcast"`
	Event  json.RawMessage `json:"event,omitempty"`
	Type   string          `json:"type,omitempty"`
	Count  int             `json:"count,omitempty" validate:"gte=0"`
}

// BroadcastResult reports how many sockets the event reached.
type BroadcastResult struct {
	Delivered int `json:"delivered"`
}

// Handle authenticates, parses, and fans out one broadcast call.
func (h *BroadcastHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	kind, err := realtime.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid broadcast request")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid broadcast request")
		return
	}

	var req BroadcastRequest
	body := http.MaxBytesReader(w, r.Body, maxBroadcastBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid broadcast request")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid broadcast request")
		return
	}

	frame, ok := h.buildFrame(kind, &req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid broadcast request")
		return
	}

	metrics.BroadcastsReceived.WithLabelValues(string(kind)).Inc()

	// An entity nobody is watching has no actor; notifying it is a success
	// with zero deliveries, not an error.
	delivered := 0
	if actor, live := h.registry.Lookup(kind, id); live {
		delivered = actor.BroadcastRaw(frame)
	}

	logging.Ctx(r.Context()).Debug().Str("kind", string(kind)).Int64("entity_id", id).
		Int("delivered", delivered).Msg("broadcast handled")
	respondJSON(w, http.StatusOK, BroadcastResult{Delivered: delivered})
}

// buildFrame turns a request body into the frame to fan out. The general
// form passes the event object through verbatim; the narrow form is only
// valid on the user kind.
func (h *BroadcastHandler) buildFrame(kind realtime.Kind, req *BroadcastRequest) ([]byte, bool) {
	if len(req.Event) > 0 && !bytes.Equal(req.Event, []byte("null")) {
		if !isJSONObject(req.Event) {
			return nil, false
		}
		return req.Event, true
	}

	if kind == realtime.KindUser && req.Type == realtime.MessageTypeUnreadCountChanged {
		frame, err := json.Marshal(realtime.UnreadCountEvent{
			Type:      realtime.MessageTypeUnreadCountChanged,
			Count:     req.Count,
			Timestamp: time.Now().UnixMilli(),
		})
		if err != nil {
			return nil, false
		}
		return frame, true
	}

	return nil, false
}

func (h *BroadcastHandler) authorized(r *http.Request) bool {
	caller := r.Header.Get(secretHeader)
	// Fail closed on either side being empty: an unconfigured secret must
	// not turn into an open broadcast endpoint.
	if h.secret == "" || caller == "" {
		return false
	}
	return secureCompare(caller, h.secret)
}

// secureCompare compares two secrets in constant time with respect to the
// longer input. Unlike subtle.ConstantTimeCompare it does not return early
// on a length mismatch; the mismatch is folded into the accumulator and the
// full scan still runs.
func secureCompare(a, b string) bool {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	var diff byte
	if len(a) != len(b) {
		diff = 1
	}
	for i := 0; i < maxLen; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		diff |= ca ^ cb
	}
	return subtle.ConstantTimeByteEq(diff, 0) == 1
}

// isJSONObject reports whether raw is a JSON object, which is the only
// accepted event shape.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil
}
