package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != "memory" {
		t.Errorf("expected default store driver memory, got %q", cfg.StoreDriver)
	}
	if cfg.ZombieThreshold != 300*time.Second {
		t.Errorf("expected default zombie threshold, got %v", cfg.ZombieThreshold)
	}
	if cfg.FailoverModel != "gemini-flash" {
		t.Errorf("expected default failover model, got %q", cfg.FailoverModel)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("expected default cors origins [*], got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chameleon.yaml")
	contents := "http_addr: \":9090\"\nstore_driver: sqlite\nzombie_threshold: 10s\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("unexpected error writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("expected overridden http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != "sqlite" {
		t.Errorf("expected overridden store driver, got %q", cfg.StoreDriver)
	}
	if cfg.ZombieThreshold != 10*time.Second {
		t.Errorf("expected overridden zombie threshold, got %v", cfg.ZombieThreshold)
	}
	if cfg.MemoryInterval != time.Hour {
		t.Errorf("expected untouched default to persist, got %v", cfg.MemoryInterval)
	}
}

func TestLoadEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("CHAMELEON_HTTP_ADDR", ":7070")
	t.Setenv("CHAMELEON_STORE_DRIVER", "postgres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("expected env-overridden http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("expected env-overridden store driver, got %q", cfg.StoreDriver)
	}
}

func TestLoadUnreadableConfigFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadRejectsInvalidSweeperSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chameleon.yaml")
	if err := os.WriteFile(path, []byte("sweeper_schedule: \"not a cron expression\"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error writing config file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for a malformed sweeper_schedule")
	}
}

func TestNextSweepDueComputesNextFireTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chameleon.yaml")
	if err := os.WriteFile(path, []byte("sweeper_schedule: \"0 * * * * *\"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	next, ok, err := cfg.NextSweepDue(from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a schedule to be configured")
	}
	want := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next fire at %v, got %v", want, next)
	}
}

func TestNextSweepDueReturnsFalseWhenUnconfigured(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, err := cfg.NextSweepDue(time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no schedule configured by default")
	}
}
