package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
)

// bareClient is a hub client without a connection.
func bareClient(h *Hub, channels ...string) *WSClient {
	c := &WSClient{hub: h, send: make(chan []byte, 4), subscriptions: map[string]struct{}{}}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	return c
}

func recvMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding %s: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func TestHub_BroadcastRespectsSubscriptions(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, testLogger())
	exec := bareClient(h, ChannelScheduleExecuted)
	other := bareClient(h, "register.synced")
	all := bareClient(h, ChannelAll)
	for _, c := range []*WSClient{exec, other, all} {
		h.Register(c)
	}
	if h.ClientCount() != 3 {
		t.Fatalf("ClientCount() = %d, want 3", h.ClientCount())
	}

	h.Broadcast(ChannelScheduleExecuted, map[string]any{"schedule_id": 4})

	for name, c := range map[string]*WSClient{"exec": exec, "all": all} {
		msg := recvMessage(t, c)
		if msg.Type != WSTypeEvent || msg.EventType != ChannelScheduleExecuted {
			t.Errorf("%s got %+v", name, msg)
		}
	}
	select {
	case data := <-other.send:
		t.Errorf("unsubscribed client received %s", data)
	default:
	}
}

func TestHub_UnregisterAndCloseAll(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, testLogger())
	a, b := bareClient(h), bareClient(h)
	h.Register(a)
	h.Register(b)

	h.Unregister(a)
	h.Unregister(a)
	if _, ok := <-a.send; ok {
		t.Error("send channel should be closed after Unregister")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() after Run = %d", h.ClientCount())
	}
	// Sending to a closed client must not panic.
	b.trySend([]byte("late"))
}

func TestClient_HandleMessage(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, testLogger())

	tests := []struct {
		name     string
		in       string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"1"}`, WSTypePong},
		{"subscribe", `{"type":"subscribe","id":"2","payload":{"channels":["x"]}}`, WSTypeResponse},
		{"unsubscribe", `{"type":"unsubscribe","id":"3","payload":{"channels":["x"]}}`, WSTypeResponse},
		{"no channels", `{"type":"subscribe","id":"4","payload":{}}`, WSTypeError},
		{"unknown", `{"type":"reboot","id":"5"}`, WSTypeError},
		{"garbage", `not json`, WSTypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := bareClient(h)
			c.handleMessage([]byte(tt.in))
			if msg := recvMessage(t, c); msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}

	c := bareClient(h)
	c.handleMessage([]byte(`{"type":"subscribe","payload":{"channels":["a","b"]}}`))
	c.handleMessage([]byte(`{"type":"unsubscribe","payload":{"channels":["a"]}}`))
	if c.isSubscribed("a") || !c.isSubscribed("b") {
		t.Errorf("subscriptions = %v", c.subscriptions)
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()      //nolint:errcheck // Test cleanup
	defer resp.Body.Close() //nolint:errcheck // Test cleanup

	deadline := time.Now().Add(time.Second)
	for env.srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.srv.hub.Broadcast(ChannelScheduleExecuted, map[string]any{"schedule_id": 9})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.EventType != ChannelScheduleExecuted {
		t.Errorf("event = %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("pong = %+v", msg)
	}
}
