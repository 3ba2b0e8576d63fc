package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser dashboards connect cross-origin; access control happens at
	// the API gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebsocket upgrades /ws/{room} and subscribes the connection to the
// room's broadcasts.
func (h *Handlers) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	room := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("room", room), slog.Any("err", err))
		return
	}
	c := h.hub.Register(room, ws)
	go c.WritePump()
	go c.ReadPump(h.hub)
}
