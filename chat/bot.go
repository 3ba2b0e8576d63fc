package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/twitchapi"
)

// BotProvisioner manages the durable per-user bot identity: creating it with
// a deterministic name, linking a real platform account to it via OAuth, and
// retiring it without losing the name.
type BotProvisioner struct {
	bots     BotStore
	creds    CredentialStore
	oauth    OAuthClient
	identity IdentityClient
	sender   ChatSender

	// Fixed wrapping of the derived name, e.g. StreamUnity<name>Bot.
	NamePrefix string
	NameSuffix string

	log *slog.Logger
}

func NewBotProvisioner(bots BotStore, creds CredentialStore, oauth OAuthClient, identity IdentityClient, sender ChatSender) *BotProvisioner {
	return &BotProvisioner{
		bots:       bots,
		creds:      creds,
		oauth:      oauth,
		identity:   identity,
		sender:     sender,
		NamePrefix: "StreamUnity",
		NameSuffix: "Bot",
		log:        slog.Default().With(slog.String("component", "bot_provisioner")),
	}
}

// DeriveBotName builds the deterministic bot name for a display name: keep
// only ASCII letters and digits, take the first 10, wrap in the fixed prefix
// and suffix. Same input always yields the same name.
func (p *BotProvisioner) DeriveBotName(displayName string) string {
	var b strings.Builder
	for _, r := range displayName {
		isASCIIAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isASCIIAlnum && b.Len() < 10 {
			b.WriteRune(r)
		}
	}
	return p.NamePrefix + b.String() + p.NameSuffix
}

// EnsureBotForUser returns the user's bot identity, creating it (active, no
// tokens yet) on first call. Repeated calls return the stored row unchanged.
func (p *BotProvisioner) EnsureBotForUser(ctx context.Context, userID string) (*db.BotIdentity, error) {
	existing, err := p.bots.GetBotIdentity(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("load bot identity: %w", err)
	}

	cred, err := p.creds.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("user %s has no connected channel to derive a bot name from: %w", userID, ErrNotConnected)
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}

	name := p.DeriveBotName(cred.ChannelLogin)
	bot := &db.BotIdentity{
		UserID:      userID,
		BotName:     name,
		DisplayName: name,
		IsActive:    true,
	}
	if err := p.bots.UpsertBotIdentity(ctx, bot); err != nil {
		return nil, fmt.Errorf("create bot identity: %w", err)
	}
	p.log.Info("bot identity created", slog.String("user_id", userID), slog.String("bot_name", name))
	return bot, nil
}

// BotAuthURL returns the OAuth consent URL to link a platform account to the
// user's bot identity.
func (p *BotProvisioner) BotAuthURL(state string) string {
	return p.oauth.AuthURL(state)
}

// ConnectBotCredentials exchanges the OAuth code, resolves the account
// behind the new token and stores both on the existing bot identity.
func (p *BotProvisioner) ConnectBotCredentials(ctx context.Context, userID, code string) error {
	bot, err := p.bots.GetBotIdentity(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("no bot identity for user %s, call EnsureBotForUser first: %w", userID, ErrInvalidState)
		}
		return fmt.Errorf("load bot identity: %w", err)
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %v: %w", err, ErrUpstreamAuth)
	}
	id, err := p.identity.GetIdentity(ctx, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("resolve bot account identity: %v: %w", err, ErrUpstreamAuth)
	}

	bot.TwitchUserID = id.ID
	bot.TwitchUsername = id.Login
	bot.AccessToken = tok.AccessToken
	bot.RefreshToken = tok.RefreshToken
	bot.ExpiresAt = twitchapi.ComputeExpiry(tok.ExpiresIn)
	bot.IsActive = true
	if err := p.bots.UpsertBotIdentity(ctx, bot); err != nil {
		return fmt.Errorf("store bot credentials: %w", err)
	}
	p.log.Info("bot account linked",
		slog.String("user_id", userID),
		slog.String("bot_login", id.Login))
	return nil
}

// Deactivate clears the bot's tokens and marks it inactive. The row (and so
// the deterministic name) survives for later reactivation.
func (p *BotProvisioner) Deactivate(ctx context.Context, userID string) error {
	if err := p.bots.DeactivateBotIdentity(ctx, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("no bot identity for user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("deactivate bot identity: %w", err)
	}
	p.log.Info("bot identity deactivated", slog.String("user_id", userID))
	return nil
}

// SendAsBot posts a message into the user's channel through the platform's
// HTTP chat API using the linked bot account. Used to verify a freshly
// linked bot without opening an IRC session.
func (p *BotProvisioner) SendAsBot(ctx context.Context, userID, text string) error {
	bot, err := p.bots.GetBotIdentity(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("no bot identity for user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("load bot identity: %w", err)
	}
	if !bot.IsActive || bot.AccessToken == "" || bot.TwitchUserID == "" {
		return fmt.Errorf("bot for user %s has no linked account: %w", userID, ErrInvalidState)
	}

	cred, err := p.creds.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("no platform credential for user %s: %w", userID, ErrNotConnected)
		}
		return fmt.Errorf("load credential: %w", err)
	}
	channelID := cred.ChannelID
	if channelID == "" {
		channelID, err = p.identity.GetUserID(ctx, cred.ChannelLogin)
		if err != nil {
			return fmt.Errorf("resolve channel id for %s: %w", cred.ChannelLogin, err)
		}
	}
	if err := p.sender.SendChatMessage(ctx, bot.AccessToken, channelID, bot.TwitchUserID, text); err != nil {
		return fmt.Errorf("send as bot: %v: %w", err, ErrTransport)
	}
	return nil
}
