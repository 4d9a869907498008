package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("CREDITS_SIGNING_SECRET", "")
	t.Setenv("CREDITS_INTERNAL_API_KEY", "")
	t.Setenv("INTERNAL_SERVICE_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when no secrets configured")
	}
}

func TestLoadSecretPrecedence(t *testing.T) {
	t.Setenv("CREDITS_SIGNING_SECRET", "dedicated-secret")
	t.Setenv("CREDITS_INTERNAL_API_KEY", "")
	t.Setenv("INTERNAL_SERVICE_KEY", "shared-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credits.SigningSecret != "dedicated-secret" {
		t.Fatalf("dedicated secret should win, got %q", cfg.Credits.SigningSecret)
	}
	if cfg.Credits.InternalAPIKey != "shared-key" {
		t.Fatalf("api key should fall back to shared key, got %q", cfg.Credits.InternalAPIKey)
	}
}

func TestLoadSharedKeyFallback(t *testing.T) {
	t.Setenv("CREDITS_SIGNING_SECRET", "")
	t.Setenv("CREDITS_INTERNAL_API_KEY", "")
	t.Setenv("INTERNAL_SERVICE_KEY", "shared-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credits.SigningSecret != "shared-key" || cfg.Credits.InternalAPIKey != "shared-key" {
		t.Fatalf("both secrets should fall back to shared key: %+v", cfg.Credits)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INTERNAL_SERVICE_KEY", "k")
	t.Setenv("CREDITS_NONCE_WINDOW", "")
	t.Setenv("SERVER_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credits.NonceWindow != 300*time.Second {
		t.Fatalf("default nonce window: %v", cfg.Credits.NonceWindow)
	}
	if cfg.Credits.SingleUseNonce {
		t.Fatal("single-use nonces should default off")
	}
	if cfg.Server.Port != 8085 {
		t.Fatalf("default port: %d", cfg.Server.Port)
	}
}

func TestLoadNonceWindowBareSeconds(t *testing.T) {
	t.Setenv("INTERNAL_SERVICE_KEY", "k")
	t.Setenv("CREDITS_NONCE_WINDOW", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credits.NonceWindow != 120*time.Second {
		t.Fatalf("bare seconds window: %v", cfg.Credits.NonceWindow)
	}
}
