// Package broadcast fans chat events out to real-time subscribers over
// websockets. Rooms are keyed by channel login; the hub is the concrete
// broadcast sink the ingest pipeline and moderation endpoints publish into.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamunity/modbridge/telemetry"
)

// Event is the wire envelope pushed to subscribers.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub tracks the subscribers of every room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn
	log   *slog.Logger
}

// Conn is one subscriber's connection with its buffered outbound queue.
type Conn struct {
	Room string
	ID   string

	conn     *websocket.Conn
	send     chan []byte
	sendOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Conn),
		log:   slog.Default().With(slog.String("component", "broadcast_hub")),
	}
}

func (c *Conn) closeSend() { c.sendOnce.Do(func() { close(c.send) }) }

// Register attaches a websocket to a room and returns its handle. The caller
// runs WritePump and ReadPump.
func (h *Hub) Register(room string, conn *websocket.Conn) *Conn {
	c := &Conn{
		Room: room,
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Conn)
	}
	h.rooms[room][c.ID] = c
	h.mu.Unlock()
	h.log.Debug("subscriber joined", slog.String("room", room), slog.String("conn", c.ID))
	return c
}

// Unregister detaches a connection and drops empty rooms.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if m := h.rooms[c.Room]; m != nil {
		if _, ok := m[c.ID]; ok {
			delete(m, c.ID)
		}
		if len(m) == 0 {
			delete(h.rooms, c.Room)
		}
	}
	h.mu.Unlock()
	c.closeSend()
}

// Publish delivers an event to every subscriber of a room. Fire and forget:
// a subscriber with a full queue misses the event, and marshal failures are
// logged but never surface to the publisher.
func (h *Hub) Publish(roomID, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		h.log.Error("failed to marshal broadcast event", slog.String("event", event), slog.Any("err", err))
		if telemetry.BroadcastFailures != nil {
			telemetry.BroadcastFailures.Inc()
		}
		return
	}

	// Sends stay under the read lock: Unregister closes a conn's send
	// channel only after taking the write lock and removing it from the
	// room, so a channel can never be closed mid-send. The sends are
	// non-blocking, so holding the lock is cheap.
	h.mu.RLock()
	for _, c := range h.rooms[roomID] {
		select {
		case c.send <- data:
		default:
			// Slow consumer: skip rather than block the publisher.
		}
	}
	h.mu.RUnlock()
	if telemetry.BroadcastsPublished != nil {
		telemetry.BroadcastsPublished.Inc()
	}
}

// RoomSize reports the current subscriber count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// WritePump drains the send queue onto the wire until the queue closes or a
// write fails.
func (c *Conn) WritePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ReadPump discards inbound frames (subscribers are read-only) and triggers
// unregistration when the peer goes away.
func (c *Conn) ReadPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
