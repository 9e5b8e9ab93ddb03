// Hivemux - Per-Entity Realtime Fan-Out Service
// Copyright 2026 Hivemux Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hivemux/hivemux

package realtime

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/hivemux/hivemux/internal/config"
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		WriteWait:      time.Second,
		PongWait:       10 * time.Second,
		MaxMessageSize: 65536,
		SendBuffer:     8,
		ActorIdleTTL:   10 * time.Minute,
		ReaperInterval: time.Minute,
		InboundRate:    100,
		InboundBurst:   100,
	}
}

func newTestActor(t *testing.T, kind Kind, id int64) *Actor {
	t.Helper()
	return newActor(kind, id, routerFor(kind), testRealtimeConfig())
}

// attachTestConn registers a connection directly, bypassing the WebSocket
// upgrade and the pumps so tests can inspect the outbound queue.
func attachTestConn(t *testing.T, a *Actor, att Attachment, buffer int) *Conn {
	t.Helper()
	cfg := testRealtimeConfig()
	c := &Conn{
		id:         connIDCounter.Add(1),
		actor:      a,
		send:       make(chan []byte, buffer),
		attachment: att,
		limiter:    rate.NewLimiter(rate.Limit(cfg.InboundRate), cfg.InboundBurst),
		cfg:        cfg,
	}
	a.mu.Lock()
	a.conns[c] = struct{}{}
	a.mu.Unlock()
	return c
}

func recvFrame(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed while waiting for frame")
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("expected no frame, got %s", frame)
	default:
	}
}

func TestBroadcastFanOut(t *testing.T) {
	a := newTestActor(t, KindConversation, 1)
	conns := []*Conn{
		attachTestConn(t, a, &ConversationAttachment{UserID: 10, ConversationID: 1}, 8),
		attachTestConn(t, a, &ConversationAttachment{UserID: 11, ConversationID: 1}, 8),
		attachTestConn(t, a, &ConversationAttachment{UserID: 12, ConversationID: 1}, 8),
	}

	delivered, err := a.Broadcast(TypingEvent{Type: MessageTypeTyping, UserID: 10, ConversationID: 1})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if delivered != 3 {
		t.Errorf("Broadcast() delivered = %d, want 3", delivered)
	}

	for i, c := range conns {
		frame := recvFrame(t, c)
		var ev TypingEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("conn %d: unmarshal: %v", i, err)
		}
		if ev.Type != MessageTypeTyping || ev.UserID != 10 || ev.ConversationID != 1 {
			t.Errorf("conn %d: got %+v", i, ev)
		}
	}
}

func TestBroadcastToOthersSkipsSender(t *testing.T) {
	a := newTestActor(t, KindConversation, 2)
	sender := attachTestConn(t, a, &ConversationAttachment{UserID: 10, ConversationID: 2}, 8)
	other := attachTestConn(t, a, &ConversationAttachment{UserID: 11, ConversationID: 2}, 8)

	delivered, err := a.BroadcastToOthers(sender, TypingEvent{Type: MessageTypeTyping, UserID: 10, ConversationID: 2})
	if err != nil {
		t.Fatalf("BroadcastToOthers() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("BroadcastToOthers() delivered = %d, want 1", delivered)
	}
	recvFrame(t, other)
	assertNoFrame(t, sender)
}

func TestBroadcastZeroConnections(t *testing.T) {
	a := newTestActor(t, KindUser, 3)
	delivered, err := a.Broadcast(UnreadCountEvent{Type: MessageTypeUnreadCountChanged, Count: 5})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if delivered != 0 {
		t.Errorf("Broadcast() delivered = %d, want 0", delivered)
	}
}

func TestBroadcastDropsBackloggedConnection(t *testing.T) {
	a := newTestActor(t, KindCart, 4)
	healthy := attachTestConn(t, a, &CartAttachment{UserID: 10, CartUserID: 4, Role: RoleOwner}, 8)
	dead := attachTestConn(t, a, &CartAttachment{UserID: 11, CartUserID: 4, Role: RoleAgent}, 1)

	// Saturate the dead connection's queue so the next enqueue fails.
	dead.send <- []byte(`{"type":"pong"}`)

	delivered, err := a.Broadcast(CartEvent{Type: MessageTypeCartCleared, TriggeredBy: TriggeredBy{Role: RoleOwner}})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("Broadcast() delivered = %d, want 1", delivered)
	}

	recvFrame(t, healthy)
	if got := a.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d after dead conn dropped, want 1", got)
	}

	// The dropped connection's queue must be closed so its write pump exits.
	<-dead.send // drain the saturating frame
	if _, ok := <-dead.send; ok {
		t.Error("dropped connection's send queue was not closed")
	}
}

func TestBroadcastEncodesEventOnce(t *testing.T) {
	a := newTestActor(t, KindUser, 5)
	if _, err := a.Broadcast(func() {}); err == nil {
		t.Error("Broadcast() with unencodable event: expected error, got nil")
	}
}

func TestAttachRejectsMismatchedKind(t *testing.T) {
	a := newTestActor(t, KindConversation, 6)
	if _, err := a.Attach(nil, &UserAttachment{UserID: 1}); err == nil {
		t.Error("Attach() with mismatched kind: expected error, got nil")
	}
	if _, err := a.Attach(nil, nil); err == nil {
		t.Error("Attach() with nil attachment: expected error, got nil")
	}
	if _, err := a.Attach(nil, &ConversationAttachment{UserID: 0, ConversationID: 6}); err == nil {
		t.Error("Attach() with incomplete attachment: expected error, got nil")
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	a := newTestActor(t, KindUser, 7)
	c := attachTestConn(t, a, &UserAttachment{UserID: 7}, 8)

	a.detach(c)
	a.detach(c) // second call must not double-close the queue

	if got := a.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d after detach, want 0", got)
	}
}

func TestEmptyFor(t *testing.T) {
	a := newTestActor(t, KindUser, 8)

	if _, empty := a.emptyFor(time.Now()); !empty {
		t.Fatal("new actor should report empty")
	}

	c := attachTestConn(t, a, &UserAttachment{UserID: 8}, 8)
	if _, empty := a.emptyFor(time.Now()); empty {
		t.Error("actor with a connection should not report empty")
	}

	a.detach(c)
	idle, empty := a.emptyFor(time.Now().Add(time.Hour))
	if !empty {
		t.Fatal("actor should report empty after last detach")
	}
	if idle < time.Hour {
		t.Errorf("emptyFor() idle = %v, want >= 1h", idle)
	}
}

func TestCloseAll(t *testing.T) {
	a := newTestActor(t, KindConversation, 9)
	c1 := attachTestConn(t, a, &ConversationAttachment{UserID: 1, ConversationID: 9}, 8)
	c2 := attachTestConn(t, a, &ConversationAttachment{UserID: 2, ConversationID: 9}, 8)

	a.closeAll()

	if got := a.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d after closeAll, want 0", got)
	}
	for i, c := range []*Conn{c1, c2} {
		if _, ok := <-c.send; ok {
			t.Errorf("conn %d: send queue not closed", i)
		}
	}
}
