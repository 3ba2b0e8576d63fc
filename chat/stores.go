package chat

import (
	"context"
	"time"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/twitchapi"
)

// CredentialStore is the narrow view of token storage the session manager
// needs. *db.Store satisfies it.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*db.Credential, error)
	UpdateCredentialTokens(ctx context.Context, userID, access, refresh string, expiresAt time.Time) error
}

// BotStore persists per-user bot identities. *db.Store satisfies it.
type BotStore interface {
	GetBotIdentity(ctx context.Context, userID string) (*db.BotIdentity, error)
	UpsertBotIdentity(ctx context.Context, b *db.BotIdentity) error
	DeactivateBotIdentity(ctx context.Context, userID string) error
}

// MessageStore persists chat messages. *db.Store satisfies it.
type MessageStore interface {
	InsertChatMessage(ctx context.Context, m *db.ChatMessage) error
	GetChatMessage(ctx context.Context, id int64) (*db.ChatMessage, error)
	MarkMessageModerated(ctx context.Context, id int64, deleted bool) error
}

// ModerationStore appends moderation audit records. *db.Store satisfies it.
type ModerationStore interface {
	InsertModerationAction(ctx context.Context, a *db.ModerationAction) error
}

// Sink is the outward broadcast boundary: fire and forget fan-out to the
// real-time subscribers of a logical room. Failures are logged, not retried.
type Sink interface {
	Publish(roomID, event string, payload any)
}

// IdentityClient resolves external identities. *twitchapi.HelixClient
// satisfies it.
type IdentityClient interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetIdentity(ctx context.Context, accessToken string) (*twitchapi.Identity, error)
}

// OAuthClient drives the bot account's code/refresh grants.
// *twitchapi.BotOAuth satisfies it.
type OAuthClient interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*twitchapi.TokenResult, error)
	Refresh(ctx context.Context, refreshToken string) (*twitchapi.TokenResult, error)
}

// ChatSender delivers an outbound message through the platform's HTTP chat
// API on behalf of a bot account. *twitchapi.HelixClient satisfies it.
type ChatSender interface {
	SendChatMessage(ctx context.Context, userToken, broadcasterID, senderID, message string) error
}
