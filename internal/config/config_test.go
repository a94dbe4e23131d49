package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODHUB_CONFIG_FILE", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("UNREAD_CACHE_TTL_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.UnreadCacheTTL != 60*time.Second {
		t.Fatalf("expected 60s ttl, got %s", cfg.UnreadCacheTTL)
	}
	if cfg.CommentPageMax != 50 {
		t.Fatalf("expected comment page max 50, got %d", cfg.CommentPageMax)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modhub.yaml")
	contents := `
addr: ":9000"
log:
  level: debug
  pretty: true
redis:
  url: redis://cache:6379/1
  unread_cache_ttl_seconds: 15
comments:
  page_max: 25
  decay_factor: 1.5
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MODHUB_CONFIG_FILE", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("UNREAD_CACHE_TTL_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should override file addr, got %q", cfg.Addr)
	}
	if cfg.LogLevel != "debug" || !cfg.LogPretty {
		t.Fatalf("expected debug pretty logging, got level=%q pretty=%v", cfg.LogLevel, cfg.LogPretty)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Fatalf("unexpected redis url %q", cfg.RedisURL)
	}
	if cfg.UnreadCacheTTL != 15*time.Second {
		t.Fatalf("expected 15s ttl, got %s", cfg.UnreadCacheTTL)
	}
	if cfg.CommentPageMax != 25 || cfg.CommentDecayFactor != 1.5 {
		t.Fatalf("unexpected comment settings: %d %v", cfg.CommentPageMax, cfg.CommentDecayFactor)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MODHUB_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
