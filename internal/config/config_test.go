package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"GOOSE_BASE_URL", "GOOSE_WS_URL", "GOOSE_PAGE_SIZE", "GOOSE_TAP_INTERVAL_MS", "GOOSE_MAX_VIEWS",
		"GOOSE_CREATE_ROUNDS", "GOOSE_HTTP_TIMEOUT_SEC", "GOOSE_WS_MAX_RECONNECT", "REDIS_URL", "DATABASE_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresURLs(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil { t.Fatalf("expected error without GOOSE_BASE_URL") }
	t.Setenv("GOOSE_BASE_URL", "http://localhost:3000/api")
	if _, err := Load(); err == nil { t.Fatalf("expected error without GOOSE_WS_URL") }
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOSE_BASE_URL", "http://localhost:3000/api/")
	t.Setenv("GOOSE_WS_URL", "ws://localhost:3000/ws")
	cfg, err := Load()
	if err != nil { t.Fatalf("Load: %v", err) }
	if cfg.BaseURL != "http://localhost:3000/api" { t.Fatalf("BaseURL = %q", cfg.BaseURL) }
	if cfg.PageSize != 20 || cfg.TapInterval != 200*time.Millisecond || cfg.MaxViews != 4 || cfg.WSMaxReconnect != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	t.Setenv("GOOSE_PAGE_SIZE", "50")
	t.Setenv("GOOSE_TAP_INTERVAL_MS", "nope")
	t.Setenv("GOOSE_CREATE_ROUNDS", "true")
	t.Setenv("GOOSE_WS_MAX_RECONNECT", "0")
	cfg, err = Load()
	if err != nil { t.Fatalf("Load: %v", err) }
	if cfg.PageSize != 50 || !cfg.CreateRounds || cfg.WSMaxReconnect != 0 { t.Fatalf("overrides not applied: %+v", cfg) }
	if cfg.TapInterval != 200*time.Millisecond { t.Fatalf("bad value should keep default, got %s", cfg.TapInterval) }
}
