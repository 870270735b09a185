package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("STOCKSIM_CONFIG", "")
	t.Setenv("PORT", "")
	t.Setenv("STOCKSIM_API_ADDR", "")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.AccessTTL != 15*time.Minute || cfg.MaxDays != 20 || cfg.StartingCash != 10_000_000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadAPIYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocksim.yaml")
	body := "addr: \":9000\"\naccess_ttl: 2m\nrefresh_ttl: 1h\nwarmup: 5s\nmax_days: 30\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("STOCKSIM_CONFIG", path)
	t.Setenv("PORT", "7000")
	t.Setenv("STOCKSIM_WARMUP", "1s")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("PORT should win over yaml, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 2*time.Minute || cfg.RefreshTTL != time.Hour || cfg.MaxDays != 30 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Warmup != time.Second {
		t.Fatalf("env warmup should win, got %s", cfg.Warmup)
	}
}

func TestLoadAPIRejectsBadValues(t *testing.T) {
	t.Setenv("STOCKSIM_CONFIG", "")
	t.Setenv("STOCKSIM_ACCESS_TTL", "2h")
	t.Setenv("STOCKSIM_REFRESH_TTL", "1h")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected error for refresh ttl shorter than access ttl")
	}

	t.Setenv("STOCKSIM_ACCESS_TTL", "")
	t.Setenv("STOCKSIM_REFRESH_TTL", "")
	t.Setenv("STOCKSIM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadCLI(t *testing.T) {
	t.Setenv("STK_API_BASE_URL", "http://example.test/api/")
	t.Setenv("STK_MODE", "Remote")
	t.Setenv("STK_BOOTSTRAP_ATTEMPTS", "5")
	t.Setenv("STK_BOOTSTRAP_DELAY", "250ms")
	t.Setenv("STK_RATE_LIMIT", "4")
	cfg, err := LoadCLIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://example.test/api" || cfg.Mode != ModeRemote || cfg.BootstrapAttempts != 5 || cfg.BootstrapDelay != 250*time.Millisecond || cfg.RateLimit != 4 {
		t.Fatalf("unexpected cli config: %+v", cfg)
	}

	t.Setenv("STK_MODE", "hybrid")
	if _, err := LoadCLIFromEnv(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
