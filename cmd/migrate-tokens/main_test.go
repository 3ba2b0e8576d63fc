package main

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/streamunity/modbridge/crypto"
)

const testKey = "dGVzdC1lbmNyeXB0aW9uLWtleS0zMi1ieXRlcwo="

// setupTestDB creates a test database connection for migration tests
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	ctx := context.Background()
	_, err = database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS platform_credentials (
			user_id TEXT PRIMARY KEY,
			platform_type TEXT NOT NULL DEFAULT 'TWITCH',
			access_token TEXT,
			refresh_token TEXT,
			channel_login TEXT,
			channel_id TEXT,
			connected BOOLEAN DEFAULT FALSE,
			expires_at TIMESTAMPTZ,
			last_synced_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		database.Close()
		t.Fatalf("failed to create platform_credentials table: %v", err)
	}
	_, err = database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_bots (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			bot_name TEXT NOT NULL UNIQUE,
			display_name TEXT,
			is_active BOOLEAN DEFAULT TRUE,
			twitch_user_id TEXT,
			twitch_username TEXT,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			encryption_version INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		database.Close()
		t.Fatalf("failed to create chat_bots table: %v", err)
	}

	t.Cleanup(func() {
		_, _ = database.ExecContext(ctx, `DELETE FROM platform_credentials WHERE user_id LIKE 'test-%'`)
		_, _ = database.ExecContext(ctx, `DELETE FROM chat_bots WHERE user_id LIKE 'test-%'`)
		database.Close()
	})

	return database
}

func insertPlaintextCredential(t *testing.T, db *sql.DB, userID, access, refresh string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO platform_credentials (user_id, access_token, refresh_token, expires_at, encryption_version)
		 VALUES ($1, $2, $3, $4, 0)`,
		userID, access, refresh, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to insert test credential: %v", err)
	}
}

// TestMigrateTokens_DryRun tests migration in dry-run mode
func TestMigrateTokens_DryRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	userID := "test-user-dryrun"
	accessToken := "test-access-token"
	insertPlaintextCredential(t, db, userID, accessToken, "test-refresh-token")

	if err := migrateTokens(ctx, db, encryptor, true, userID); err != nil {
		t.Fatalf("migrateTokens(dry-run) failed: %v", err)
	}

	var storedAccess string
	var encVersion int
	err = db.QueryRowContext(ctx,
		`SELECT access_token, encryption_version FROM platform_credentials WHERE user_id = $1`,
		userID).Scan(&storedAccess, &encVersion)
	if err != nil {
		t.Fatalf("failed to query credential: %v", err)
	}

	if encVersion != 0 {
		t.Errorf("dry-run should not change encryption_version, got %d", encVersion)
	}
	if storedAccess != accessToken {
		t.Errorf("dry-run should not change access_token, got %q, want %q", storedAccess, accessToken)
	}
}

// TestMigrateTokens_RealMigration tests actual token migration
func TestMigrateTokens_RealMigration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	userID := "test-user-real"
	accessToken := "test-access-token"
	refreshToken := "test-refresh-token"
	insertPlaintextCredential(t, db, userID, accessToken, refreshToken)

	if err := migrateTokens(ctx, db, encryptor, false, userID); err != nil {
		t.Fatalf("migrateTokens failed: %v", err)
	}

	var storedAccess, storedRefresh string
	var encVersion int
	err = db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, encryption_version FROM platform_credentials WHERE user_id = $1`,
		userID).Scan(&storedAccess, &storedRefresh, &encVersion)
	if err != nil {
		t.Fatalf("failed to query credential: %v", err)
	}

	if encVersion != 1 {
		t.Errorf("encryption_version = %d, want 1", encVersion)
	}
	if storedAccess == accessToken {
		t.Error("access_token should be ciphertext after migration")
	}

	// Round-trip: the stored ciphertext must decrypt back to the original.
	plainAccess, err := crypto.DecryptString(encryptor, storedAccess)
	if err != nil {
		t.Fatalf("failed to decrypt access token: %v", err)
	}
	if plainAccess != accessToken {
		t.Errorf("decrypted access token = %q, want %q", plainAccess, accessToken)
	}
	plainRefresh, err := crypto.DecryptString(encryptor, storedRefresh)
	if err != nil {
		t.Fatalf("failed to decrypt refresh token: %v", err)
	}
	if plainRefresh != refreshToken {
		t.Errorf("decrypted refresh token = %q, want %q", plainRefresh, refreshToken)
	}
}

// TestMigrateTokens_AlreadyEncrypted verifies encrypted rows are skipped
func TestMigrateTokens_AlreadyEncrypted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	encryptor, err := crypto.NewAESEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	userID := "test-user-skip"
	ciphertext, err := crypto.EncryptString(encryptor, "already-encrypted")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO platform_credentials (user_id, access_token, refresh_token, encryption_version)
		 VALUES ($1, $2, '', 1)`,
		userID, ciphertext)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := migrateTokens(ctx, db, encryptor, false, userID); err != nil {
		t.Fatalf("migrateTokens failed: %v", err)
	}

	var storedAccess string
	err = db.QueryRowContext(ctx,
		`SELECT access_token FROM platform_credentials WHERE user_id = $1`,
		userID).Scan(&storedAccess)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if storedAccess != ciphertext {
		t.Error("already-encrypted row must not be touched")
	}
}
