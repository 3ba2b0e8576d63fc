package server

import (
	"net/http"
	"time"
)

// messageResponse is the JSON shape for persisted chat messages.
type messageResponse struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	PlatformType string    `json:"platformType"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	Message      string    `json:"message"`
	Badges       string    `json:"badges,omitempty"`
	Emotes       string    `json:"emotes,omitempty"`
	Color        string    `json:"color,omitempty"`
	IsModerated  bool      `json:"isModerated"`
	IsDeleted    bool      `json:"isDeleted"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HandleMessagesList returns a user's recent messages, newest first.
func (h *Handlers) HandleMessagesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	msgs, err := h.store.GetChatMessages(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:           m.ID,
			UserID:       m.UserID,
			PlatformType: m.PlatformType,
			Username:     m.Username,
			DisplayName:  m.DisplayName,
			Message:      m.Message,
			Badges:       m.Badges,
			Emotes:       m.Emotes,
			Color:        m.Color,
			IsModerated:  m.IsModerated,
			IsDeleted:    m.IsDeleted,
			CreatedAt:    m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}
