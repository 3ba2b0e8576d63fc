package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// sessionResponse is the JSON shape for session status.
type sessionResponse struct {
	UserID    string `json:"userId"`
	Channel   string `json:"channel,omitempty"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// HandleSessionsDispatcher routes /sessions/{userId} and
// /sessions/{userId}/send by method and suffix.
func (h *Handlers) HandleSessionsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	userID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		h.handleSessionStart(w, r, userID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleSessionStop(w, r, userID)
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleSessionStatus(w, r, userID)
	case len(parts) == 2 && parts[1] == "send" && r.Method == http.MethodPost:
		h.handleSessionSend(w, r, userID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleSessionStart(w http.ResponseWriter, r *http.Request, userID string) {
	sess, err := h.registry.StartSession(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Provisioning a bot identity is best effort; the session is up either
	// way and the outcome rides along as a secondary field.
	botStatus := "ok"
	if h.bots != nil {
		if _, err := h.bots.EnsureBotForUser(r.Context(), userID); err != nil {
			botStatus = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionResponse{
			UserID:    sess.UserID,
			Channel:   sess.Channel,
			Status:    sess.Status().String(),
			Connected: h.registry.IsConnected(userID),
		},
		"botProvisioning": botStatus,
	})
}

func (h *Handlers) handleSessionStop(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.registry.StopSession(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handlers) handleSessionStatus(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    userID,
		Status:    statusString(h, userID),
		Connected: h.registry.IsConnected(userID),
	})
}

func statusString(h *Handlers, userID string) string {
	for _, s := range h.registry.ActiveSessions() {
		if s.UserID == userID {
			return s.Status().String()
		}
	}
	return "disconnected"
}

type sendRequest struct {
	Message string `json:"message"`
}

func (h *Handlers) handleSessionSend(w http.ResponseWriter, r *http.Request, userID string) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "missing message", http.StatusBadRequest)
		return
	}
	if err := h.registry.Send(r.Context(), userID, req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
