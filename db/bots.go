package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BotIdentity is the durable record of a per-user bot account: its derived
// name, activation state, and the Twitch identity/tokens obtained when the
// bot account was authorized. At most one per user.
type BotIdentity struct {
	UserID         string
	BotName        string
	DisplayName    string
	IsActive       bool
	TwitchUserID   string
	TwitchUsername string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
}

// GetBotIdentity returns the bot identity for a user, or ErrNotFound.
func (s *Store) GetBotIdentity(ctx context.Context, userID string) (*BotIdentity, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT user_id, bot_name, COALESCE(display_name,''), is_active,
		        COALESCE(twitch_user_id,''), COALESCE(twitch_username,''),
		        COALESCE(access_token,''), COALESCE(refresh_token,''),
		        COALESCE(expires_at, 'epoch'::timestamptz), COALESCE(encryption_version, 0)
		 FROM chat_bots WHERE user_id=$1`, userID)
	var b BotIdentity
	var encVersion int
	if err := row.Scan(&b.UserID, &b.BotName, &b.DisplayName, &b.IsActive,
		&b.TwitchUserID, &b.TwitchUsername, &b.AccessToken, &b.RefreshToken, &b.ExpiresAt, &encVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	access, refresh, err := openTokens(b.AccessToken, b.RefreshToken, encVersion)
	if err != nil {
		return nil, err
	}
	b.AccessToken, b.RefreshToken = access, refresh
	return &b, nil
}

// UpsertBotIdentity creates or updates a user's bot identity. The uniqueness
// constraint on user_id keeps this at most one row per user.
func (s *Store) UpsertBotIdentity(ctx context.Context, b *BotIdentity) error {
	access, refresh, encVersion, err := sealTokens(b.AccessToken, b.RefreshToken)
	if err != nil {
		return err
	}
	var expires any
	if b.ExpiresAt.IsZero() {
		expires = nil
	} else {
		expires = b.ExpiresAt
	}
	q := `INSERT INTO chat_bots(user_id, bot_name, display_name, is_active, twitch_user_id, twitch_username, access_token, refresh_token, expires_at, encryption_version, updated_at)
	      VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
	      ON CONFLICT(user_id) DO UPDATE SET
	        bot_name=EXCLUDED.bot_name,
	        display_name=EXCLUDED.display_name,
	        is_active=EXCLUDED.is_active,
	        twitch_user_id=EXCLUDED.twitch_user_id,
	        twitch_username=EXCLUDED.twitch_username,
	        access_token=EXCLUDED.access_token,
	        refresh_token=EXCLUDED.refresh_token,
	        expires_at=EXCLUDED.expires_at,
	        encryption_version=EXCLUDED.encryption_version,
	        updated_at=NOW()`
	if _, err := s.DB.ExecContext(ctx, q, b.UserID, b.BotName, b.DisplayName, b.IsActive,
		b.TwitchUserID, b.TwitchUsername, access, refresh, expires, encVersion); err != nil {
		return fmt.Errorf("upsert bot identity: %w", err)
	}
	return nil
}

// DeactivateBotIdentity clears the bot's tokens and marks it inactive. The row
// is kept so the derived bot name survives for reactivation.
func (s *Store) DeactivateBotIdentity(ctx context.Context, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE chat_bots SET is_active=FALSE, access_token='', refresh_token='', expires_at=NULL, encryption_version=0, updated_at=NOW() WHERE user_id=$1`,
		userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
