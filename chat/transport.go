package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// InboundMessage is one normalized chat event from the upstream channel.
type InboundMessage struct {
	Username    string
	DisplayName string
	Text        string
	Badges      string
	Emotes      string
	Color       string
	SentAt      time.Time
}

// StatusKind is a transport connection-state transition.
type StatusKind int

const (
	StatusConnected StatusKind = iota
	StatusDisconnected
	StatusReconnectAttempt
)

// StatusEvent carries a transport state transition and, for disconnects,
// the reason.
type StatusEvent struct {
	Kind   StatusKind
	Reason string
}

// TransportConfig binds one transport instance to a bot login and a single
// channel. The callbacks are invoked from the transport's read loop.
type TransportConfig struct {
	BotLogin  string
	BotToken  string // "oauth:" prefixed user token
	Channel   string
	OnMessage func(InboundMessage)
	OnStatus  func(StatusEvent)
}

// Transport is the per-session adapter to the upstream chat protocol.
type Transport interface {
	// Connect dials, authenticates and joins the configured channel. It
	// returns once the connection is established, or with an error. The
	// context cancels both the dial and the client's reconnect loop.
	Connect(ctx context.Context) error
	// Say sends a message to the joined channel.
	Say(text string) error
	// Disconnect tears the connection down. Idempotent.
	Disconnect() error
}

// TransportFactory builds a Transport for a session. Swapped out in tests.
type TransportFactory func(cfg TransportConfig) Transport

// connectTimeout bounds the initial dial+auth+join handshake.
const connectTimeout = 15 * time.Second

// ircTransport speaks Twitch IRC via go-twitch-irc. The library reconnects
// on transient drops by itself; Connect only returns after a fatal error or
// an explicit Disconnect.
type ircTransport struct {
	cfg    TransportConfig
	client *twitch.Client
}

// NewIRCTransport is the production TransportFactory.
func NewIRCTransport(cfg TransportConfig) Transport {
	return &ircTransport{cfg: cfg}
}

func (t *ircTransport) Connect(ctx context.Context) error {
	token := t.cfg.BotToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	client := twitch.NewClient(t.cfg.BotLogin, token)
	client.OnPrivateMessage(t.handlePrivateMessage)

	ready := make(chan struct{})
	connectedOnce := false
	client.OnConnect(func() {
		if !connectedOnce {
			connectedOnce = true
			close(ready)
		}
		t.emitStatus(StatusEvent{Kind: StatusConnected})
	})
	client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		t.emitStatus(StatusEvent{Kind: StatusReconnectAttempt})
	})

	client.Join(t.cfg.Channel)
	t.client = client

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	// Cancel the reconnect loop when the session context ends.
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("irc disconnect on cancel", slog.Any("err", err))
		}
	}()

	select {
	case <-ready:
	case err := <-errCh:
		return classifyConnectErr(err)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		if err := client.Disconnect(); err != nil {
			slog.Debug("irc disconnect after timeout", slog.Any("err", err))
		}
		return fmt.Errorf("irc connect timed out after %s: %w", connectTimeout, ErrTransport)
	}

	// The client is connected; watch for the fatal end of the connection.
	go func() {
		err := <-errCh
		reason := "closed"
		if err != nil {
			reason = err.Error()
		}
		t.emitStatus(StatusEvent{Kind: StatusDisconnected, Reason: reason})
	}()
	return nil
}

// classifyConnectErr maps a failed IRC connect onto the package sentinels:
// rejected credentials become ErrUpstreamAuth (which triggers the one-shot
// token refresh upstream), everything else is ErrTransport.
func classifyConnectErr(err error) error {
	if err == nil {
		err = fmt.Errorf("connection closed before ready")
	}
	if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
		return fmt.Errorf("irc login rejected: %w", ErrUpstreamAuth)
	}
	return fmt.Errorf("irc connect: %v: %w", err, ErrTransport)
}

func (t *ircTransport) emitStatus(ev StatusEvent) {
	if t.cfg.OnStatus != nil {
		t.cfg.OnStatus(ev)
	}
}

// handlePrivateMessage normalizes an IRC event and hands it to the ingest
// callback. Messages authored by the bot account itself are suppressed so
// outbound Sends do not echo back through the pipeline.
func (t *ircTransport) handlePrivateMessage(msg twitch.PrivateMessage) {
	if strings.EqualFold(msg.User.Name, t.cfg.BotLogin) {
		return
	}
	if t.cfg.OnMessage == nil {
		return
	}
	t.cfg.OnMessage(InboundMessage{
		Username:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		Text:        msg.Message,
		Badges:      formatBadges(msg.User.Badges),
		Emotes:      formatEmotes(msg.Emotes),
		Color:       msg.User.Color,
		SentAt:      msg.Time,
	})
}

func (t *ircTransport) Say(text string) error {
	if t.client == nil {
		return ErrNotConnected
	}
	t.client.Say(t.cfg.Channel, text)
	return nil
}

func (t *ircTransport) Disconnect() error {
	if t.client == nil {
		return nil
	}
	return t.client.Disconnect()
}

func formatBadges(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	parts := make([]string, 0, len(badges))
	for name, version := range badges {
		parts = append(parts, fmt.Sprintf("%s:%d", name, version))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func formatEmotes(emotes []*twitch.Emote) string {
	if len(emotes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(emotes))
	for _, e := range emotes {
		parts = append(parts, e.Name)
	}
	return strings.Join(parts, ",")
}
