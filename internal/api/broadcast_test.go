// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hivemux/hivemux/internal/realtime"
	"github.com/hivemux/hivemux/internal/token"
)

func (ts *testServer) postBroadcast(t *testing.T, path, secret, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBroadcastResult(t *testing.T, resp *http.Response) BroadcastResult {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    BroadcastResult `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if !envelope.Success {
		t.Errorf("response success = false, body %s", raw)
	}
	return envelope.Data
}

func TestBroadcastDeliversToCart(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "/api/ws/cart-connect", ts.signToken(t, token.Claims{UserID: 4, CartUserID: 40, Role: "owner"}))
	ts.waitForConnections(t, realtime.KindCart, 40, 1)

	resp := ts.postBroadcast(t, "/broadcast/cart/40", ts.cfg.Security.BroadcastSecret,
		`{"action":"broadcast","event":{"type":"item_added","item":{"sku":"A1"},"triggeredBy":{"role":"agent"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if result := decodeBroadcastResult(t, resp); result.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", result.Delivered)
	}

	var ev realtime.CartEvent
	readJSONFrame(t, ws, &ev)
	if ev.Type != "item_added" || ev.TriggeredBy.Role != realtime.RoleAgent {
		t.Errorf("cart event = %+v", ev)
	}
	if !bytes.Contains(ev.Item, []byte("A1")) {
		t.Errorf("item passthrough lost: %s", ev.Item)
	}
}

func TestBroadcastUserUnreadCount(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, "/api/ws/user-connect", ts.signToken(t, token.Claims{UserID: 7}))
	ts.waitForConnections(t, realtime.KindUser, 7, 1)

	resp := ts.postBroadcast(t, "/broadcast/user/7", ts.cfg.Security.BroadcastSecret,
		`{"action":"broadcast","type":"unread_count_changed","count":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ev realtime.UnreadCountEvent
	readJSONFrame(t, ws, &ev)
	if ev.Type != "unread_count_changed" || ev.Count != 3 {
		t.Errorf("unread event = %+v", ev)
	}
	if ev.Timestamp <= 0 {
		t.Errorf("timestamp = %d, want server-stamped millis", ev.Timestamp)
	}
}

func TestBroadcastWithoutListenersSucceeds(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postBroadcast(t, "/broadcast/conversation/9999", ts.cfg.Security.BroadcastSecret,
		`{"action":"broadcast","event":{"type":"message","body":"hello"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if result := decodeBroadcastResult(t, resp); result.Delivered != 0 {
		t.Errorf("delivered = %d, want 0", result.Delivered)
	}
}

func TestBroadcastAuth(t *testing.T) {
	ts := newTestServer(t)
	good := ts.cfg.Security.BroadcastSecret
	// Same length as the real secret so the comparison exercises the
	// content path, not the length fold.
	sameLength := strings.Repeat("x", len(good))

	tests := []struct {
		name   string
		secret string
	}{
		{"missing secret", ""},
		{"wrong secret same length", sameLength},
		{"wrong secret different length", "short"},
		{"secret with extra suffix", good + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.postBroadcast(t, "/broadcast/user/1", tt.secret,
				`{"action":"broadcast","type":"unread_count_changed","count":1}`)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestBroadcastUnconfiguredSecretFailsClosed(t *testing.T) {
	registry := realtime.NewRegistry(testConfig().Realtime)
	h := NewBroadcastHandler("", registry)

	req, _ := http.NewRequest(http.MethodPost, "/broadcast/user/1", strings.NewReader(`{"action":"broadcast"}`))
	// Even an empty caller secret must not match an empty configured secret.
	if h.authorized(req) {
		t.Error("authorized() accepted an unconfigured secret")
	}
	req.Header.Set(secretHeader, "")
	if h.authorized(req) {
		t.Error("authorized() accepted empty-for-empty secrets")
	}
}

func TestBroadcastInvalidRequests(t *testing.T) {
	ts := newTestServer(t)
	secret := ts.cfg.Security.BroadcastSecret

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/broadcast/user/1", `{broken`},
		{"missing action", "/broadcast/user/1", `{"event":{"type":"x"}}`},
		{"wrong action", "/broadcast/user/1", `{"action":"publish","event":{"type":"x"}}`},
		{"event not an object", "/broadcast/user/1", `{"action":"broadcast","event":[1,2]}`},
		{"narrow form on conversation", "/broadcast/conversation/1", `{"action":"broadcast","type":"unread_count_changed","count":1}`},
		{"no event no narrow form", "/broadcast/user/1", `{"action":"broadcast"}`},
		{"unknown kind", "/broadcast/wishlist/1", `{"action":"broadcast","event":{"type":"x"}}`},
		{"non-numeric id", "/broadcast/user/abc", `{"action":"broadcast","event":{"type":"x"}}`},
		{"negative count", "/broadcast/user/1", `{"action":"broadcast","type":"unread_count_changed","count":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.postBroadcast(t, tt.path, secret, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal", "secret-value", "secret-value", true},
		{"different same length", "secret-value", "secret-vplue", false},
		{"different lengths", "secret", "secret-value", false},
		{"prefix", "secret-value", "secret", false},
		{"both empty", "", "", true},
		{"one empty", "", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := secureCompare(tt.a, tt.b); got != tt.want {
				t.Errorf("secureCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestBroadcastFanOutToMultipleSockets(t *testing.T) {
	ts := newTestServer(t)
	wsA := ts.dial(t, "/api/ws/connect", ts.signToken(t, token.Claims{UserID: 1, ConversationID: 77}))
	wsB := ts.dial(t, "/api/ws/connect", ts.signToken(t, token.Claims{UserID: 2, ConversationID: 77}))
	wsC := ts.dial(t, "/api/ws/connect", ts.signToken(t, token.Claims{UserID: 3, ConversationID: 77}))
	ts.waitForConnections(t, realtime.KindConversation, 77, 3)

	resp := ts.postBroadcast(t, "/broadcast/conversation/77", ts.cfg.Security.BroadcastSecret,
		`{"action":"broadcast","event":{"type":"message","body":"hi all"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if result := decodeBroadcastResult(t, resp); result.Delivered != 3 {
		t.Errorf("delivered = %d, want 3", result.Delivered)
	}

	for i, ws := range []*websocket.Conn{wsA, wsB, wsC} {
		var ev struct {
			Type string `json:"type"`
			Body string `json:"body"`
		}
		readJSONFrame(t, ws, &ev)
		if ev.Type != "message" || ev.Body != "hi all" {
			t.Errorf("socket %d: event = %+v", i, ev)
		}
	}
}
