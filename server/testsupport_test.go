package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/streamunity/modbridge/broadcast"
	"github.com/streamunity/modbridge/chat"
	"github.com/streamunity/modbridge/config"
	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/twitchapi"
)

// memStore is an in-memory stand-in for *db.Store covering every store
// interface the handlers and the core consume.
type memStore struct {
	mu       sync.Mutex
	creds    map[string]*db.Credential
	bots     map[string]*db.BotIdentity
	nextID   int64
	messages map[int64]*db.ChatMessage
	actions  []db.ModerationAction
}

func newMemStore() *memStore {
	return &memStore{
		creds:    make(map[string]*db.Credential),
		bots:     make(map[string]*db.BotIdentity),
		messages: make(map[int64]*db.ChatMessage),
	}
}

func (s *memStore) GetCredential(ctx context.Context, userID string) (*db.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UpsertCredential(ctx context.Context, c *db.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Connected = true
	s.creds[c.UserID] = &cp
	return nil
}

func (s *memStore) ClearCredential(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[userID]; ok {
		c.AccessToken = ""
		c.RefreshToken = ""
		c.Connected = false
	}
	return nil
}

func (s *memStore) UpdateCredentialTokens(ctx context.Context, userID, access, refresh string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return db.ErrNotFound
	}
	c.AccessToken = access
	c.RefreshToken = refresh
	c.ExpiresAt = expiresAt
	return nil
}

func (s *memStore) GetBotIdentity(ctx context.Context, userID string) (*db.BotIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) UpsertBotIdentity(ctx context.Context, b *db.BotIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bots[b.UserID] = &cp
	return nil
}

func (s *memStore) DeactivateBotIdentity(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[userID]
	if !ok {
		return db.ErrNotFound
	}
	b.AccessToken = ""
	b.RefreshToken = ""
	b.IsActive = false
	return nil
}

func (s *memStore) InsertChatMessage(ctx context.Context, m *db.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *memStore) GetChatMessage(ctx context.Context, id int64) (*db.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetChatMessages(ctx context.Context, userID string, limit int) ([]db.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.ChatMessage
	for _, m := range s.messages {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkMessageModerated(ctx context.Context, id int64, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return db.ErrNotFound
	}
	m.IsModerated = true
	m.IsDeleted = deleted
	return nil
}

func (s *memStore) InsertModerationAction(ctx context.Context, a *db.ModerationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CreatedAt = time.Now()
	s.actions = append(s.actions, *a)
	return nil
}

// stubTransport connects instantly and records sends.
type stubTransport struct {
	cfg  chat.TransportConfig
	mu   sync.Mutex
	said []string
}

func (t *stubTransport) Connect(ctx context.Context) error { return nil }

func (t *stubTransport) Say(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.said = append(t.said, text)
	return nil
}

func (t *stubTransport) Disconnect() error { return nil }

type stubIdentity struct {
	identity *twitchapi.Identity
}

func (s *stubIdentity) GetUserID(ctx context.Context, login string) (string, error) {
	return "42", nil
}

func (s *stubIdentity) GetIdentity(ctx context.Context, accessToken string) (*twitchapi.Identity, error) {
	if s.identity != nil {
		return s.identity, nil
	}
	return &twitchapi.Identity{ID: "42", Login: "zoe_99", DisplayName: "Zoe_99"}, nil
}

type stubOAuth struct{}

func (stubOAuth) AuthURL(state string) string { return "https://id.example/auth?state=" + state }

func (stubOAuth) Exchange(ctx context.Context, code string) (*twitchapi.TokenResult, error) {
	return &twitchapi.TokenResult{AccessToken: "bot-at", RefreshToken: "bot-rt", ExpiresIn: 3600}, nil
}

func (stubOAuth) Refresh(ctx context.Context, refreshToken string) (*twitchapi.TokenResult, error) {
	return &twitchapi.TokenResult{AccessToken: "bot-at2", RefreshToken: refreshToken, ExpiresIn: 3600}, nil
}

type stubSender struct{}

func (stubSender) SendChatMessage(ctx context.Context, userToken, broadcasterID, senderID, message string) error {
	return nil
}

// testDeps wires a full handler dependency set over in-memory fakes.
func testDeps(store *memStore) Deps {
	hub := broadcast.NewHub()
	pipeline := chat.NewPipeline(store, hub, 16)
	registry := chat.NewRegistry(store, store, pipeline, &stubIdentity{}, stubOAuth{}, func(cfg chat.TransportConfig) chat.Transport {
		return &stubTransport{cfg: cfg}
	})
	registry.FallbackBotLogin = "sharedbot"
	registry.FallbackBotToken = "oauth:tok"
	return Deps{
		Cfg: &config.Config{
			TwitchClientID:     "client-id",
			TwitchClientSecret: "client-secret",
			TwitchRedirectURI:  "http://localhost/auth/twitch/callback",
			TwitchScopes:       "chat:read chat:edit",
		},
		Store:     store,
		Registry:  registry,
		Moderator: chat.NewModerator(store, store),
		Bots:      chat.NewBotProvisioner(store, store, stubOAuth{}, &stubIdentity{}, stubSender{}),
		Hub:       hub,
		Identity:  &stubIdentity{},
	}
}
