package config

import (
	"testing"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/audit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Errorf("expected development env by default")
	}
	if cfg.DBMaxConns != 20 || cfg.DBMinConns != 5 {
		t.Errorf("unexpected pool defaults: max=%d min=%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if len(cfg.AuditSkipPaths) != 1 || cfg.AuditSkipPaths[0] != "/health" {
		t.Errorf("unexpected skip paths: %v", cfg.AuditSkipPaths)
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 200 {
		t.Errorf("unexpected rate limit defaults: %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/audit")
	t.Setenv("PORT", "9999")
	t.Setenv("ENV", "production")
	t.Setenv("AUDIT_SKIP_PATHS", "/health,/metrics")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("port override lost: %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Errorf("env override lost: %s", cfg.Env)
	}
	if len(cfg.AuditSkipPaths) != 2 || cfg.AuditSkipPaths[1] != "/metrics" {
		t.Errorf("skip paths not split: %v", cfg.AuditSkipPaths)
	}
}

func TestValidateProductionRequiresSigningKey(t *testing.T) {
	cfg := &Config{Env: "production", DBMaxConns: 20, DBMinConns: 5, RateLimitRPS: 100}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for production without signing key")
	}

	cfg.AuthSigningKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidatePoolBounds(t *testing.T) {
	cfg := &Config{Env: "development", DBMaxConns: 2, DBMinConns: 5, RateLimitRPS: 100}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when max conns < min conns")
	}
}

func TestValidateRateLimit(t *testing.T) {
	cfg := &Config{Env: "development", DBMaxConns: 20, DBMinConns: 5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive rate limit")
	}
}
