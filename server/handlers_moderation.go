package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/streamunity/modbridge/chat"
)

type moderationRequest struct {
	MessageID   int64  `json:"messageId"`
	Action      string `json:"action"`
	ModeratorID string `json:"moderatorId"`
	Reason      string `json:"reason,omitempty"`
}

// HandleModeration applies a moderation decision and, on success, announces
// it to the message's room. The broadcast is deliberately outside the
// applier: a sink outage never blocks the data mutation.
func (h *Handlers) HandleModeration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req moderationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	action, err := chat.ParseAction(req.Action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ModeratorID == "" {
		http.Error(w, "missing moderatorId", http.StatusBadRequest)
		return
	}

	rec, err := h.moderator.Apply(r.Context(), req.MessageID, action, req.ModeratorID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	h.broadcastModeration(r, rec.MessageID, rec.Action, rec.UserID)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        rec.ID,
		"messageId": rec.MessageID,
		"action":    rec.Action,
		"reason":    rec.Reason,
		"createdAt": rec.CreatedAt,
	})
}

// broadcastModeration resolves the room (the message owner's channel login)
// and publishes the messageModerated event. Failures only log.
func (h *Handlers) broadcastModeration(r *http.Request, messageID int64, action, moderatedBy string) {
	if h.hub == nil {
		return
	}
	msg, err := h.store.GetChatMessage(r.Context(), messageID)
	if err != nil {
		slog.Warn("cannot resolve room for moderation broadcast", slog.Int64("message_id", messageID), slog.Any("err", err))
		return
	}
	cred, err := h.store.GetCredential(r.Context(), msg.UserID)
	if err != nil {
		slog.Warn("cannot resolve room for moderation broadcast", slog.String("user_id", msg.UserID), slog.Any("err", err))
		return
	}
	h.hub.Publish(cred.ChannelLogin, "messageModerated", map[string]any{
		"messageId":   messageID,
		"action":      action,
		"moderatedBy": moderatedBy,
	})
}
