package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
}

func TestShouldSend_ViewScoped(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{ViewID: "view_a"}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventAnalysis, ViewID: "view_a"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventAnalysis, ViewID: "view_b"}))
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{ViewID: "v", EventTypes: []EventType{EventRedirect}}}

	assert.False(t, h.shouldSend(client, &Event{Type: EventAnalysis, ViewID: "v"}))
	assert.True(t, h.shouldSend(client, &Event{Type: EventRedirect, ViewID: "v"}))
}

func TestHub_Stats_Initial(t *testing.T) {
	stats := testHub().Stats()
	assert.Equal(t, 0, stats["connectedClients"])
	assert.Equal(t, int64(0), stats["totalEvents"])
}

func TestHub_RegisterBroadcastDisconnect(t *testing.T) {
	h := testHub()
	runHub(t, h)

	mine := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{ViewID: "view_a"}}
	other := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{ViewID: "view_b"}}
	h.register <- mine
	h.register <- other

	h.Publish("view_a", EventAnalysis, map[string]any{"status": "pending"})

	select {
	case msg := <-mine.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, EventAnalysis, ev.Type)
		assert.Equal(t, "view_a", ev.ViewID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	require.Eventually(t, func() bool { return h.Stats()["totalEvents"].(int64) == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-other.send:
		t.Fatal("other view must not receive the event")
	default:
	}

	h.DisconnectView("view_a")
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)
	_, open := <-mine.send
	assert.False(t, open, "send channel should be closed on disconnect")
	assert.Equal(t, int64(2), h.Stats()["peakClients"])
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	// upgrades after shutdown are refused
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil), "v")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	runHub(t, h)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, "view_ws")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)

	h.Publish("view_ws", EventRedirect, map[string]string{"location": "/login"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventRedirect, ev.Type)
	assert.Equal(t, "view_ws", ev.ViewID)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(slog.Default(), "https://app.example.com")

	req := httptest.NewRequest("GET", "http://api.example.com/ws", nil)
	assert.True(t, h.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, h.checkOrigin(req), "same host")

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.checkOrigin(req))
}
