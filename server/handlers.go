// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/streamunity/modbridge/broadcast"
	"github.com/streamunity/modbridge/chat"
	"github.com/streamunity/modbridge/config"
	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Store is the persistence surface the handlers read and write directly.
// *db.Store satisfies it.
type Store interface {
	GetCredential(ctx context.Context, userID string) (*db.Credential, error)
	UpsertCredential(ctx context.Context, c *db.Credential) error
	ClearCredential(ctx context.Context, userID string) error
	GetChatMessage(ctx context.Context, id int64) (*db.ChatMessage, error)
	GetChatMessages(ctx context.Context, userID string, limit int) ([]db.ChatMessage, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx       context.Context
	cfg       *config.Config
	db        *sql.DB
	store     Store
	registry  *chat.Registry
	moderator *chat.Moderator
	bots      *chat.BotProvisioner
	hub       *broadcast.Hub
	identity  chat.IdentityClient

	// exchangeCode is swapped for a stub in tests.
	exchangeCode func(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*twitchapi.TokenResult, error)

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		ctx:          ctx,
		cfg:          deps.Cfg,
		db:           deps.DB,
		store:        deps.Store,
		registry:     deps.Registry,
		moderator:    deps.Moderator,
		bots:         deps.Bots,
		hub:          deps.Hub,
		identity:     deps.Identity,
		exchangeCode: twitchapi.ExchangeAuthCode,
		stateStore:   make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes a state, returning whether it was
// valid and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return !time.Now().After(exp)
}
