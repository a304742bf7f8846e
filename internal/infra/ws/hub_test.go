package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"token_exchange/internal/domain"
	"token_exchange/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, h.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsBatches(t *testing.T) {
	m := &infra.Metrics{}
	hub := NewHub(m)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	a := dial(t, server.URL)
	b := dial(t, server.URL)
	waitSubscribers(t, hub, 2)

	if m.Snapshot().FeedSubscribers != 2 {
		t.Errorf("Expected 2 subscribers in metrics, got %d", m.Snapshot().FeedSubscribers)
	}

	batch := &domain.Batch{ID: "batch-1", Seq: 1, Total: decimal.NewFromInt(12), OrderCount: 3, OrderIDs: []uint64{1, 2, 3}}
	if err := hub.Notify(context.Background(), batch); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var msg struct {
			Type  string       `json:"type"`
			Batch domain.Batch `json:"batch"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if msg.Type != "batch_settled" || msg.Batch.Seq != 1 || !msg.Batch.Total.Equal(decimal.NewFromInt(12)) {
			t.Errorf("unexpected message: %+v", msg)
		}
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(&infra.Metrics{})
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server.URL)
	waitSubscribers(t, hub, 1)

	conn.Close()
	waitSubscribers(t, hub, 0)
}

func TestHub_NotifyWithoutSubscribers(t *testing.T) {
	hub := NewHub(&infra.Metrics{})
	if err := hub.Notify(context.Background(), &domain.Batch{Seq: 1}); err != nil {
		t.Errorf("Notify with no subscribers should succeed, got %v", err)
	}
}
