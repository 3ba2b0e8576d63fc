package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TWITCH_SCOPES", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("INGEST_QUEUE_SIZE", "")
	t.Setenv("BOT_NAME_PREFIX", "")
	t.Setenv("BOT_NAME_SUFFIX", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TwitchScopes != "chat:read chat:edit channel:moderate" {
		t.Errorf("default scopes = %q", cfg.TwitchScopes)
	}
	if cfg.DBDsn == "" {
		t.Error("expected default DB DSN")
	}
	if cfg.IngestQueueSize != 256 {
		t.Errorf("default queue size = %d, want 256", cfg.IngestQueueSize)
	}
	if cfg.BotNamePrefix != "StreamUnity" || cfg.BotNameSuffix != "Bot" {
		t.Errorf("default bot name affixes = %q/%q", cfg.BotNamePrefix, cfg.BotNameSuffix)
	}
}

func TestLoadQueueSize(t *testing.T) {
	t.Setenv("INGEST_QUEUE_SIZE", "512")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IngestQueueSize != 512 {
		t.Errorf("queue size = %d, want 512", cfg.IngestQueueSize)
	}

	t.Setenv("INGEST_QUEUE_SIZE", "zero")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric INGEST_QUEUE_SIZE")
	}

	t.Setenv("INGEST_QUEUE_SIZE", "-1")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative INGEST_QUEUE_SIZE")
	}
}

func TestValidateBotReady(t *testing.T) {
	t.Setenv("TWITCH_BOT_USERNAME", "")
	t.Setenv("TWITCH_BOT_TOKEN", "")
	cfg, _ := Load()
	if err := cfg.ValidateBotReady(); err == nil {
		t.Error("expected error when bot creds missing")
	}

	t.Setenv("TWITCH_BOT_USERNAME", "modbot")
	t.Setenv("TWITCH_BOT_TOKEN", "oauth:abc")
	cfg, _ = Load()
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("ValidateBotReady() = %v, want nil", err)
	}
}

func TestValidateOAuthReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	t.Setenv("TWITCH_REDIRECT_URI", "")
	cfg, _ := Load()
	if err := cfg.ValidateOAuthReady(); err == nil {
		t.Error("expected error when oauth env missing")
	}

	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_REDIRECT_URI", "http://localhost:8080/auth/twitch/callback")
	cfg, _ = Load()
	if err := cfg.ValidateOAuthReady(); err != nil {
		t.Errorf("ValidateOAuthReady() = %v, want nil", err)
	}
}
