// Package oauth keeps persisted streamer credentials fresh: a background
// loop wakes on a jittered interval, finds credentials whose access token
// expires within a configured window, and refreshes them through the
// provider before a session start would trip over a stale token.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/telemetry"
)

// RefreshFunc performs the provider-specific refresh grant and returns
// (access, refresh, expiry).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// CredentialSource is the slice of token storage the refresher needs.
// *db.Store satisfies it.
type CredentialSource interface {
	ListRefreshableCredentials(ctx context.Context, window time.Duration) ([]db.Credential, error)
	UpdateCredentialTokens(ctx context.Context, userID, access, refresh string, expiresAt time.Time) error
}

// StartRefresher launches the background loop. interval is how often to
// wake; window is the remaining-lifetime threshold under which a credential
// gets refreshed.
func StartRefresher(ctx context.Context, store CredentialSource, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "token_refresher"))

	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshDue(ctx, store, window, fn, log)
		}
	}()
}

// refreshDue runs one sweep over the credentials inside the window.
func refreshDue(ctx context.Context, store CredentialSource, window time.Duration, fn RefreshFunc, log *slog.Logger) {
	due, err := store.ListRefreshableCredentials(ctx, window)
	if err != nil {
		log.Warn("failed to list refreshable credentials", slog.Any("err", err))
		return
	}
	for _, cred := range due {
		if cred.RefreshToken == "" {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		access, refresh, expiresAt, err := fn(cctx, cred.RefreshToken)
		cancel()
		if err != nil {
			log.Warn("token refresh failed", slog.String("user_id", cred.UserID), slog.Any("err", err))
			if telemetry.TokenRefreshErrors != nil {
				telemetry.TokenRefreshErrors.Inc()
			}
			continue
		}
		if refresh == "" {
			refresh = cred.RefreshToken
		}
		if err := store.UpdateCredentialTokens(ctx, cred.UserID, access, refresh, expiresAt); err != nil {
			log.Warn("token persist failed", slog.String("user_id", cred.UserID), slog.Any("err", err))
			continue
		}
		if telemetry.TokenRefreshes != nil {
			telemetry.TokenRefreshes.Inc()
		}
		log.Info("token refreshed", slog.String("user_id", cred.UserID))
	}
}
