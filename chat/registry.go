package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/telemetry"
	"github.com/streamunity/modbridge/twitchapi"
)

// SessionStatus is the caller-visible lifecycle state of a session.
type SessionStatus int

const (
	StatusSessionConnecting SessionStatus = iota
	StatusSessionConnected
	StatusSessionDisconnected
	StatusSessionFailed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusSessionConnecting:
		return "connecting"
	case StatusSessionConnected:
		return "connected"
	case StatusSessionDisconnected:
		return "disconnected"
	case StatusSessionFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the live handle for one user's chat connection. All fields
// behind mu; the struct is shared between the registry, the transport's
// status callback and API readers.
type Session struct {
	UserID  string
	Channel string

	mu        sync.Mutex
	status    SessionStatus
	transport Transport
	cancel    context.CancelFunc
	stopped   bool // app-level stop is terminal
}

// Status returns the current lifecycle state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.status = st
}

// liveTransport returns the transport if the session can still send.
func (s *Session) liveTransport() (Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.status != StatusSessionConnected || s.transport == nil {
		return nil, false
	}
	return s.transport, true
}

// markStopped flips the session to its terminal state and returns the
// transport to tear down. Later transport status callbacks are ignored.
func (s *Session) markStopped() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.status = StatusSessionDisconnected
	tr := s.transport
	s.transport = nil
	return tr
}

// Registry owns the set of active sessions, at most one per user. The
// registry mutex protects only map bookkeeping; per-user keyed locks make
// Start and Stop for the same user mutually exclusive without serializing
// unrelated users, and are never held across connect or persistence I/O
// beyond the map updates themselves.
type Registry struct {
	creds        CredentialStore
	bots         BotStore
	pipeline     *Pipeline
	identity     IdentityClient
	oauth        OAuthClient
	newTransport TransportFactory

	// Fallback shared bot account for users without a provisioned bot
	// identity (FallbackBotToken without "oauth:" prefix is accepted).
	FallbackBotLogin string
	FallbackBotToken string

	PlatformType string

	mu        sync.Mutex
	sessions  map[string]*Session
	userLocks map[string]*sync.Mutex

	log *slog.Logger
}

// NewRegistry wires the session registry. newTransport defaults to the IRC
// implementation when nil.
func NewRegistry(creds CredentialStore, bots BotStore, pipeline *Pipeline, identity IdentityClient, oauth OAuthClient, newTransport TransportFactory) *Registry {
	if newTransport == nil {
		newTransport = NewIRCTransport
	}
	return &Registry{
		creds:        creds,
		bots:         bots,
		pipeline:     pipeline,
		identity:     identity,
		oauth:        oauth,
		newTransport: newTransport,
		PlatformType: "twitch",
		sessions:     make(map[string]*Session),
		userLocks:    make(map[string]*sync.Mutex),
		log:          slog.Default().With(slog.String("component", "session_registry")),
	}
}

// userLock returns the keyed lock serializing Start/Stop for one user.
func (r *Registry) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.userLocks[userID] = l
	}
	return l
}

func (r *Registry) getSession(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

func (r *Registry) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartSession establishes the chat connection for a user's channel. A
// second call while a session is connecting or connected returns the
// existing handle without creating another transport.
func (r *Registry) StartSession(ctx context.Context, userID string) (*Session, error) {
	ul := r.userLock(userID)
	ul.Lock()
	defer ul.Unlock()

	if existing := r.getSession(userID); existing != nil {
		switch existing.Status() {
		case StatusSessionConnecting, StatusSessionConnected:
			return existing, nil
		}
		// Stale dead session: drop it from the registry before anything
		// else can fail, then tear it down and start fresh.
		r.mu.Lock()
		delete(r.sessions, userID)
		r.mu.Unlock()
		r.teardown(existing)
		telemetry.SetSessionsActive(r.sessionCount())
	}

	cred, err := r.creds.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("no platform credential for user %s: %w", userID, ErrNotConnected)
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred.ChannelLogin == "" {
		return nil, fmt.Errorf("credential for user %s has no channel login: %w", userID, ErrNotConnected)
	}

	platformID := cred.ChannelID
	if platformID == "" && r.identity != nil {
		// Best effort; the message records just miss the numeric id.
		if id, err := r.identity.GetUserID(ctx, cred.ChannelLogin); err != nil {
			r.log.Warn("failed to resolve channel id", slog.String("channel", cred.ChannelLogin), slog.Any("err", err))
		} else {
			platformID = id
		}
	}

	bot, err := r.botCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	channel := strings.ToLower(cred.ChannelLogin)
	sess := &Session{
		UserID:  userID,
		Channel: cred.ChannelLogin,
		status:  StatusSessionConnecting,
	}
	ingest := r.pipeline.OpenIngest(SessionInfo{
		UserID:       userID,
		PlatformID:   platformID,
		PlatformType: r.PlatformType,
		Room:         cred.ChannelLogin,
	})

	sessCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	tr, err := r.connectTransport(ctx, sessCtx, sess, ingest, bot, channel)
	if err != nil {
		cancel()
		if telemetry.SessionFailures != nil {
			telemetry.SessionFailures.Inc()
		}
		return nil, err
	}

	sess.mu.Lock()
	sess.transport = tr
	sess.status = StatusSessionConnected
	sess.mu.Unlock()

	go ingest.Run(sessCtx)

	r.mu.Lock()
	r.sessions[userID] = sess
	r.mu.Unlock()

	if telemetry.SessionStarts != nil {
		telemetry.SessionStarts.Inc()
	}
	telemetry.SetSessionsActive(r.sessionCount())
	r.log.Info("session started", slog.String("user_id", userID), slog.String("channel", cred.ChannelLogin))
	return sess, nil
}

// botCredentials picks the login/token pair the transport authenticates
// with: the user's provisioned bot account when connected, else the shared
// fallback bot.
type botCreds struct {
	login   string
	token   string
	refresh string
	owned   bool // true when backed by the user's BotIdentity row
	userID  string
}

func (r *Registry) botCredentials(ctx context.Context, userID string) (botCreds, error) {
	if r.bots != nil {
		b, err := r.bots.GetBotIdentity(ctx, userID)
		if err == nil && b.IsActive && b.TwitchUsername != "" && b.AccessToken != "" {
			return botCreds{login: b.TwitchUsername, token: b.AccessToken, refresh: b.RefreshToken, owned: true, userID: userID}, nil
		}
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return botCreds{}, fmt.Errorf("load bot identity: %w", err)
		}
	}
	if r.FallbackBotLogin != "" && r.FallbackBotToken != "" {
		return botCreds{login: r.FallbackBotLogin, token: r.FallbackBotToken}, nil
	}
	return botCreds{}, fmt.Errorf("no bot credentials available for user %s: %w", userID, ErrNotConnected)
}

// connectTransport dials once, and on an auth rejection of a user-owned bot
// token refreshes the token and retries exactly once.
func (r *Registry) connectTransport(ctx, sessCtx context.Context, sess *Session, ingest *Ingest, bot botCreds, channel string) (Transport, error) {
	build := func(token string) Transport {
		return r.newTransport(TransportConfig{
			BotLogin:  bot.login,
			BotToken:  token,
			Channel:   channel,
			OnMessage: ingest.Enqueue,
			OnStatus:  func(ev StatusEvent) { r.onTransportStatus(sess, ev) },
		})
	}

	tr := build(bot.token)
	err := tr.Connect(sessCtx)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, ErrUpstreamAuth) || !bot.owned {
		return nil, fmt.Errorf("connect channel %s: %w", channel, err)
	}

	r.log.Info("bot token rejected, refreshing", slog.String("user_id", bot.userID))
	fresh, rerr := r.refreshBotToken(ctx, bot)
	if rerr != nil {
		return nil, fmt.Errorf("connect channel %s: token refresh failed: %v: %w", channel, rerr, ErrUpstreamAuth)
	}
	tr = build(fresh)
	if err := tr.Connect(sessCtx); err != nil {
		if errors.Is(err, ErrUpstreamAuth) {
			return nil, fmt.Errorf("connect channel %s after refresh: %w", channel, err)
		}
		return nil, fmt.Errorf("connect channel %s: %w", channel, err)
	}
	return tr, nil
}

func (r *Registry) refreshBotToken(ctx context.Context, bot botCreds) (string, error) {
	if r.oauth == nil || bot.refresh == "" {
		return "", errors.New("no refresh token")
	}
	tok, err := r.oauth.Refresh(ctx, bot.refresh)
	if err != nil {
		if telemetry.TokenRefreshErrors != nil {
			telemetry.TokenRefreshErrors.Inc()
		}
		return "", err
	}
	if telemetry.TokenRefreshes != nil {
		telemetry.TokenRefreshes.Inc()
	}
	if r.bots != nil {
		b, gerr := r.bots.GetBotIdentity(ctx, bot.userID)
		if gerr == nil {
			b.AccessToken = tok.AccessToken
			b.RefreshToken = tok.RefreshToken
			b.ExpiresAt = twitchapi.ComputeExpiry(tok.ExpiresIn)
			if uerr := r.bots.UpsertBotIdentity(ctx, b); uerr != nil {
				r.log.Warn("failed to persist refreshed bot tokens", slog.Any("err", uerr))
			}
		}
	}
	return tok.AccessToken, nil
}

// onTransportStatus maps transport transitions onto the session. A stopped
// session ignores them; a reconnect attempt leaves the caller-visible state
// untouched.
func (r *Registry) onTransportStatus(sess *Session, ev StatusEvent) {
	switch ev.Kind {
	case StatusConnected:
		sess.setStatus(StatusSessionConnected)
	case StatusReconnectAttempt:
		r.log.Info("transport reconnecting", slog.String("user_id", sess.UserID))
	case StatusDisconnected:
		r.log.Warn("transport disconnected",
			slog.String("user_id", sess.UserID),
			slog.String("reason", ev.Reason))
		sess.setStatus(StatusSessionFailed)
	}
}

// StopSession disconnects and forgets a user's session. Calling it without
// an active session is a successful no-op.
func (r *Registry) StopSession(ctx context.Context, userID string) error {
	ul := r.userLock(userID)
	ul.Lock()
	defer ul.Unlock()

	r.mu.Lock()
	sess := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if sess == nil {
		return nil
	}

	r.teardown(sess)
	if telemetry.SessionStops != nil {
		telemetry.SessionStops.Inc()
	}
	telemetry.SetSessionsActive(r.sessionCount())
	r.log.Info("session stopped", slog.String("user_id", userID))
	return nil
}

// teardown marks the session terminal before touching the transport, so a
// concurrent Send observes ErrNotConnected instead of a dying handle. The
// context cancel also aborts any in-flight reconnect.
func (r *Registry) teardown(sess *Session) {
	tr := sess.markStopped()
	if sess.cancel != nil {
		sess.cancel()
	}
	if tr != nil {
		if err := tr.Disconnect(); err != nil {
			r.log.Debug("transport disconnect", slog.String("user_id", sess.UserID), slog.Any("err", err))
		}
	}
}

// IsConnected reports whether the user currently has a connected session.
func (r *Registry) IsConnected(userID string) bool {
	sess := r.getSession(userID)
	return sess != nil && sess.Status() == StatusSessionConnected
}

// Send emits a message on the user's channel. It does not go through ingest;
// the transport suppresses the echo.
func (r *Registry) Send(ctx context.Context, userID, text string) error {
	sess := r.getSession(userID)
	if sess == nil {
		return fmt.Errorf("no session for user %s: %w", userID, ErrNotConnected)
	}
	tr, ok := sess.liveTransport()
	if !ok {
		return fmt.Errorf("session for user %s is %s: %w", userID, sess.Status(), ErrNotConnected)
	}
	if err := tr.Say(text); err != nil {
		return fmt.Errorf("send to channel %s: %v: %w", sess.Channel, err, ErrTransport)
	}
	return nil
}

// ActiveSessions snapshots the registry for status endpoints.
func (r *Registry) ActiveSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown stops every session, used during graceful process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if err := r.StopSession(ctx, id); err != nil {
			r.log.Warn("failed to stop session on shutdown", slog.String("user_id", id), slog.Any("err", err))
		}
	}
}
