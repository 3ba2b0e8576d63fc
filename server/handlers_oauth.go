package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/twitchapi"
)

// HandleTwitchOAuthStart initiates the streamer OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	authURL, err := twitchapi.BuildAuthorizeURL(h.cfg.TwitchClientID, h.cfg.TwitchRedirectURI, h.cfg.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code, resolves the streamer's
// channel from the token and stores the credential that session starts read.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	// The caller layer says which local user this grant belongs to.
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res, err := h.exchangeCode(ctx, h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	ident, err := h.identityForToken(ctx, res.AccessToken)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	cred := &db.Credential{
		UserID:       userID,
		PlatformType: "twitch",
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ChannelLogin: ident.Login,
		ChannelID:    ident.ID,
		ExpiresAt:    twitchapi.ComputeExpiry(res.ExpiresIn),
	}
	if err := h.store.UpsertCredential(ctx, cred); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"channel":    ident.Login,
		"scopes":     res.Scope,
		"expires_in": res.ExpiresIn,
	})
}

// HandleTwitchDisconnect unlinks a user's platform connection: any live chat
// session stops first, then the stored tokens are wiped and the credential
// marked not connected. The row itself survives so the channel identity is
// still known if the user reconnects.
func (h *Handlers) HandleTwitchDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}
	if err := h.registry.StopSession(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.ClearCredential(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *Handlers) identityForToken(ctx context.Context, accessToken string) (*twitchapi.Identity, error) {
	if h.identity == nil {
		return nil, fmt.Errorf("identity client not configured")
	}
	return h.identity.GetIdentity(ctx, accessToken)
}
