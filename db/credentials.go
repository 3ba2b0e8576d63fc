package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Credential is a user's streamer-side platform connection: the OAuth tokens
// and channel identity obtained when the user linked their Twitch account.
// The core holds a transient read-only copy for a session's lifetime.
type Credential struct {
	UserID       string
	PlatformType string
	AccessToken  string
	RefreshToken string
	ChannelLogin string
	ChannelID    string
	Connected    bool
	ExpiresAt    time.Time
	LastSyncedAt time.Time
}

// GetCredential returns the stored credential for a user, or ErrNotFound.
// Tokens are decrypted transparently when stored encrypted.
func (s *Store) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT user_id, platform_type, access_token, refresh_token, channel_login, channel_id,
		        connected, COALESCE(expires_at, 'epoch'::timestamptz), last_synced_at, COALESCE(encryption_version, 0)
		 FROM platform_credentials WHERE user_id=$1`, userID)
	var c Credential
	var encVersion int
	if err := row.Scan(&c.UserID, &c.PlatformType, &c.AccessToken, &c.RefreshToken, &c.ChannelLogin, &c.ChannelID,
		&c.Connected, &c.ExpiresAt, &c.LastSyncedAt, &encVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	access, refresh, err := openTokens(c.AccessToken, c.RefreshToken, encVersion)
	if err != nil {
		return nil, err
	}
	c.AccessToken, c.RefreshToken = access, refresh
	return &c, nil
}

// UpsertCredential stores or updates a user's platform credential, marking it
// connected and refreshing last_synced_at.
func (s *Store) UpsertCredential(ctx context.Context, c *Credential) error {
	access, refresh, encVersion, err := sealTokens(c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}
	platformType := c.PlatformType
	if platformType == "" {
		platformType = "TWITCH"
	}
	q := `INSERT INTO platform_credentials(user_id, platform_type, access_token, refresh_token, channel_login, channel_id, connected, expires_at, last_synced_at, encryption_version)
	      VALUES($1,$2,$3,$4,$5,$6,TRUE,$7,NOW(),$8)
	      ON CONFLICT(user_id) DO UPDATE SET
	        platform_type=EXCLUDED.platform_type,
	        access_token=EXCLUDED.access_token,
	        refresh_token=EXCLUDED.refresh_token,
	        channel_login=EXCLUDED.channel_login,
	        channel_id=EXCLUDED.channel_id,
	        connected=TRUE,
	        expires_at=EXCLUDED.expires_at,
	        last_synced_at=NOW(),
	        encryption_version=EXCLUDED.encryption_version`
	var expires any
	if c.ExpiresAt.IsZero() {
		expires = nil
	} else {
		expires = c.ExpiresAt
	}
	if _, err := s.DB.ExecContext(ctx, q, c.UserID, platformType, access, refresh, c.ChannelLogin, c.ChannelID, expires, encVersion); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// UpdateCredentialTokens replaces just the token pair and expiry for a user,
// used by the background refresher. The row must already exist.
func (s *Store) UpdateCredentialTokens(ctx context.Context, userID, access, refresh string, expiresAt time.Time) error {
	sealedAccess, sealedRefresh, encVersion, err := sealTokens(access, refresh)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE platform_credentials SET access_token=$1, refresh_token=$2, expires_at=$3, last_synced_at=NOW(), encryption_version=$4 WHERE user_id=$5`,
		sealedAccess, sealedRefresh, expiresAt, encVersion, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCredential disconnects a user's platform: tokens are wiped and the row
// is marked not connected. The row itself is kept.
func (s *Store) ClearCredential(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE platform_credentials SET access_token='', refresh_token='', connected=FALSE, encryption_version=0, last_synced_at=NOW() WHERE user_id=$1`,
		userID)
	return err
}

// ListRefreshableCredentials returns connected credentials whose tokens expire
// within the given window and that have a refresh token on file.
func (s *Store) ListRefreshableCredentials(ctx context.Context, window time.Duration) ([]Credential, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, access_token, refresh_token, COALESCE(expires_at, 'epoch'::timestamptz), COALESCE(encryption_version, 0)
		 FROM platform_credentials
		 WHERE connected AND refresh_token <> '' AND expires_at IS NOT NULL AND expires_at <= NOW() + $1::interval`,
		fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Credential
	for rows.Next() {
		var c Credential
		var encVersion int
		if err := rows.Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &encVersion); err != nil {
			return nil, err
		}
		access, refresh, err := openTokens(c.AccessToken, c.RefreshToken, encVersion)
		if err != nil {
			return nil, err
		}
		c.AccessToken, c.RefreshToken = access, refresh
		out = append(out, c)
	}
	return out, rows.Err()
}
