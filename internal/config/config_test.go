package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":5000" {
		t.Fatalf("expected default addr :5000, got %q", cfg.Addr)
	}
	if cfg.SessionTTL != 168*time.Hour {
		t.Fatalf("expected default session ttl 168h, got %s", cfg.SessionTTL)
	}
	if cfg.TimelineLimit != 100 {
		t.Fatalf("expected default timeline limit 100, got %d", cfg.TimelineLimit)
	}
	if cfg.BcryptCost != 10 {
		t.Fatalf("expected default bcrypt cost 10, got %d", cfg.BcryptCost)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("DATABASE_URL", "sqlite://warbler.db")
	t.Setenv("WARBLER_SESSION_TTL", "30m")
	t.Setenv("WARBLER_COOKIE_SECURE", "true")
	t.Setenv("MEILI_URL", "http://localhost:7700")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" || cfg.DatabaseURL != "sqlite://warbler.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("expected 30m session ttl, got %s", cfg.SessionTTL)
	}
	if !cfg.CookieSecure {
		t.Fatal("expected CookieSecure to be true")
	}
	if cfg.MeiliURL != "http://localhost:7700" {
		t.Fatalf("unexpected meili url %q", cfg.MeiliURL)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("WARBLER_SESSION_TTL", "forever")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail for an invalid duration")
	}
}
