package config

import "testing"

func TestLoadDefaultsForDevEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("RESPONSES_RUNTIME_MODE", "")
	t.Setenv("DEBUG", "")
	t.Setenv("PORT", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.RuntimeMode != "stub" {
		t.Fatalf("expected stub runtime mode outside prod, got %q", cfg.RuntimeMode)
	}
	if !cfg.Debug {
		t.Fatal("expected debug to default true outside prod")
	}
}

func TestLoadDefaultsForProdEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("RESPONSES_RUNTIME_MODE", "")
	t.Setenv("DEBUG", "")

	cfg := Load()
	if cfg.RuntimeMode != "live" {
		t.Fatalf("expected live runtime mode in prod, got %q", cfg.RuntimeMode)
	}
	if cfg.Debug {
		t.Fatal("expected debug to default false in prod")
	}
}

func TestLoadHonorsExplicitOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("RESPONSES_RUNTIME_MODE", "stub")
	t.Setenv("RESPONSES_ARCHIVE_TTL_DAYS", "30")
	t.Setenv("RESPONSES_COST_PER_1K_TOKENS", "0.01")

	cfg := Load()
	if cfg.RuntimeMode != "stub" {
		t.Fatalf("expected explicit override to win, got %q", cfg.RuntimeMode)
	}
	if cfg.ArchiveTTLDays != 30 {
		t.Fatalf("expected archive ttl 30, got %d", cfg.ArchiveTTLDays)
	}
	if cfg.CostPer1KTokens != 0.01 {
		t.Fatalf("expected cost override 0.01, got %v", cfg.CostPer1KTokens)
	}
}

func TestLoadFallsBackOnUnparsableNumericEnv(t *testing.T) {
	t.Setenv("RESPONSES_ARCHIVE_TTL_DAYS", "not-a-number")
	cfg := Load()
	if cfg.ArchiveTTLDays != 90 {
		t.Fatalf("expected fallback of 90 for an unparsable value, got %d", cfg.ArchiveTTLDays)
	}
}
