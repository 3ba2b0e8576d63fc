package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hubServer upgrades every request into the given room.
func hubServer(t *testing.T, h *Hub, room string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := h.Register(room, ws)
		go c.WritePump()
		go c.ReadPump(h)
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

func waitSubscribers(t *testing.T, h *Hub, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.RoomSize(room) < n {
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d subscribers", room, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishReachesRoomSubscribers(t *testing.T) {
	h := NewHub()
	server := hubServer(t, h, "Zoe_99")
	defer server.Close()

	ws1 := dial(t, server)
	defer ws1.Close()
	ws2 := dial(t, server)
	defer ws2.Close()
	waitSubscribers(t, h, "Zoe_99", 2)

	h.Publish("Zoe_99", "message", map[string]string{"message": "hello"})

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		ev := readEvent(t, ws)
		if ev.Event != "message" {
			t.Errorf("event = %q, want message", ev.Event)
		}
		payload, ok := ev.Payload.(map[string]any)
		if !ok || payload["message"] != "hello" {
			t.Errorf("payload = %#v", ev.Payload)
		}
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := NewHub()
	serverA := hubServer(t, h, "room_a")
	defer serverA.Close()
	serverB := hubServer(t, h, "room_b")
	defer serverB.Close()

	wsA := dial(t, serverA)
	defer wsA.Close()
	wsB := dial(t, serverB)
	defer wsB.Close()
	waitSubscribers(t, h, "room_a", 1)
	waitSubscribers(t, h, "room_b", 1)

	h.Publish("room_a", "message", map[string]string{"message": "only a"})

	if ev := readEvent(t, wsA); ev.Event != "message" {
		t.Errorf("room_a event = %q", ev.Event)
	}
	wsB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := wsB.ReadMessage(); err == nil {
		t.Error("room_b received an event published to room_a")
	}
}

func TestHub_PublishToEmptyRoomIsNoop(t *testing.T) {
	h := NewHub()
	// Must not panic or block.
	h.Publish("nobody_here", "message", map[string]string{"message": "x"})
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	h := NewHub()
	server := hubServer(t, h, "room")
	defer server.Close()

	ws := dial(t, server)
	waitSubscribers(t, h, "room", 1)
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.RoomSize("room") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_ModeratedEventShape(t *testing.T) {
	h := NewHub()
	server := hubServer(t, h, "Zoe_99")
	defer server.Close()

	ws := dial(t, server)
	defer ws.Close()
	waitSubscribers(t, h, "Zoe_99", 1)

	h.Publish("Zoe_99", "messageModerated", map[string]any{
		"messageId":   int64(7),
		"action":      "DELETE",
		"moderatedBy": "mod-1",
	})
	ev := readEvent(t, ws)
	if ev.Event != "messageModerated" {
		t.Fatalf("event = %q", ev.Event)
	}
	payload := ev.Payload.(map[string]any)
	if payload["action"] != "DELETE" || payload["moderatedBy"] != "mod-1" {
		t.Errorf("payload = %#v", payload)
	}
}

// TestPublishConcurrentWithUnregister hammers a room with publishers while
// subscribers churn in and out. A send racing a close of the subscriber's
// queue would panic the publisher goroutine.
func TestPublishConcurrentWithUnregister(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					h.Publish("churn", "message", map[string]string{"message": "hi"})
				}
			}
		}()
	}

	// Subscribers only sit in the registry here, so the websocket side of
	// the Conn stays untouched.
	for i := 0; i < 2000; i++ {
		c := h.Register("churn", nil)
		h.Unregister(c)
	}
	close(done)
	wg.Wait()

	if n := h.RoomSize("churn"); n != 0 {
		t.Errorf("room size = %d after churn, want 0", n)
	}
}
