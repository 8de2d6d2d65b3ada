package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("TOKEN_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OTPTTL != 2*time.Minute {
		t.Fatalf("expected 2m otp ttl, got %s", cfg.OTPTTL)
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Fatalf("expected 30d session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.TokenSecret == "" {
		t.Fatal("expected development token secret")
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadDurationOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_TTL_SECONDS", "90")
	t.Setenv("SESSION_TTL", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OTPTTL != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.OTPTTL)
	}
	if cfg.SessionTTL != 48*time.Hour {
		t.Fatalf("expected 48h, got %s", cfg.SessionTTL)
	}
}

func TestLoadProductionRequiresInfra(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TOKEN_SECRET", "s3cret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
