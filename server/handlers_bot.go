package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HandleBotAuthURL returns the OAuth consent URL for linking a bot account.
func (h *Handlers) HandleBotAuthURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}
	// The state round-trips the user so the callback knows which identity
	// to attach the tokens to.
	state := userID + ":" + uuid.NewString()
	h.addOAuthState(state, time.Now().Add(10*time.Minute))
	writeJSON(w, http.StatusOK, map[string]string{"url": h.bots.BotAuthURL(state)})
}

// HandleBotOAuthCallback finishes the bot-account OAuth flow.
func (h *Handlers) HandleBotOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(state) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	userID, _, ok := strings.Cut(state, ":")
	if !ok || userID == "" {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if err := h.bots.ConnectBotCredentials(r.Context(), userID, code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleBotDispatcher routes /bot/{userId} and its sub-operations.
func (h *Handlers) HandleBotDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/bot/"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleBotStatus(w, r, userID)
	case len(parts) == 2 && parts[1] == "ensure" && r.Method == http.MethodPost:
		h.handleBotEnsure(w, r, userID)
	case len(parts) == 2 && parts[1] == "connect" && r.Method == http.MethodPost:
		h.handleBotConnect(w, r, userID)
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		h.handleBotDeactivate(w, r, userID)
	case len(parts) == 2 && parts[1] == "test-message" && r.Method == http.MethodPost:
		h.handleBotTestMessage(w, r, userID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleBotEnsure(w http.ResponseWriter, r *http.Request, userID string) {
	bot, err := h.bots.EnsureBotForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"botName":  bot.BotName,
		"isActive": bot.IsActive,
		"linked":   bot.TwitchUserID != "",
	})
}

func (h *Handlers) handleBotStatus(w http.ResponseWriter, r *http.Request, userID string) {
	bot, err := h.bots.EnsureBotForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"botName":        bot.BotName,
		"displayName":    bot.DisplayName,
		"isActive":       bot.IsActive,
		"linked":         bot.TwitchUserID != "",
		"twitchUsername": bot.TwitchUsername,
	})
}

func (h *Handlers) handleBotConnect(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if err := h.bots.ConnectBotCredentials(r.Context(), userID, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (h *Handlers) handleBotDeactivate(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.bots.Deactivate(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handlers) handleBotTestMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "missing message", http.StatusBadRequest)
		return
	}
	if err := h.bots.SendAsBot(r.Context(), userID, req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
