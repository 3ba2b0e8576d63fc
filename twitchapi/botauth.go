package twitchapi

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// BotOAuth drives the authorization-code flow used to link a dedicated bot
// account. It is separate from the streamer flow because the bot grant asks
// for chat scopes only.
type BotOAuth struct {
	cfg oauth2.Config
}

// NewBotOAuth builds the flow config. scopes come from configuration, e.g.
// "chat:read chat:edit".
func NewBotOAuth(clientID, clientSecret, redirectURI string, scopes []string) *BotOAuth {
	return &BotOAuth{cfg: oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     endpoints.Twitch,
	}}
}

// AuthURL returns the consent URL for the given CSRF state.
func (b *BotOAuth) AuthURL(state string) string {
	return b.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for tokens.
func (b *BotOAuth) Exchange(ctx context.Context, code string) (*TokenResult, error) {
	tok, err := b.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return tokenResultFromOAuth2(tok), nil
}

// Refresh obtains a fresh access token from a refresh token.
func (b *BotOAuth) Refresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	src := b.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	res := tokenResultFromOAuth2(tok)
	// Twitch does not always rotate the refresh token on refresh.
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}
	return res, nil
}

func tokenResultFromOAuth2(tok *oauth2.Token) *TokenResult {
	res := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		res.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return res
}
