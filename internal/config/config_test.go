package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9090"
api:
  base_url: http://localhost:8081
  timeout: 5s
timer:
  interval: 500ms
  confirm_unanswered: true
redis:
  addr: localhost:6379
  ttl: 2m
apiserver:
  jwt_secret: s3cret
  legacy_shape: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.API.BaseURL != "http://localhost:8081" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Timer.ConfirmUnanswered || !cfg.APIServer.LegacyShape || cfg.APIServer.JWTSecret != "s3cret" {
		t.Fatalf("unexpected flags %+v", cfg)
	}
	if d := TTLDuration(cfg.Timer.Interval, time.Second); d != 500*time.Millisecond {
		t.Fatalf("unexpected interval %v", d)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected zero config, got %v", err)
	}
	if cfg.Server.Port != "" {
		t.Fatalf("expected empty config")
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if d := TTLDuration("", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback, got %v", d)
	}
	if d := TTLDuration("garbage", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback for bad input, got %v", d)
	}
}
