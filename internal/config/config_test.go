package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TCP_HOST", "TCP_PORT", "WS_PORT",
		"CARDBRIDGE_UPSTREAM_HOST", "CARDBRIDGE_UPSTREAM_PORT", "CARDBRIDGE_SERVER_PORT",
		"CARDBRIDGE_UPSTREAM_RECONNECT_DELAY", "CARDBRIDGE_LOGGING_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Upstream.Host != "localhost" {
		t.Errorf("expected host 'localhost', got '%s'", cfg.Upstream.Host)
	}
	if cfg.Upstream.Port != 3001 {
		t.Errorf("expected upstream port 3001, got %d", cfg.Upstream.Port)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("expected server port 4000, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.ReconnectDelay != 10*time.Second {
		t.Errorf("expected 10s reconnect delay, got %s", cfg.Upstream.ReconnectDelay)
	}
	if cfg.Upstream.StartDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms start delay, got %s", cfg.Upstream.StartDelay)
	}
	if cfg.Shutdown.ForceAfter != 5*time.Second {
		t.Errorf("expected 5s force exit, got %s", cfg.Shutdown.ForceAfter)
	}
	if cfg.Server.MaxSubscribers != 0 {
		t.Errorf("expected unlimited subscribers by default, got %d", cfg.Server.MaxSubscribers)
	}
	if got := cfg.Link().Addr(); got != "localhost:3001" {
		t.Errorf("expected reader address localhost:3001, got %s", got)
	}
	if got := cfg.ListenAddr(); got != ":4000" {
		t.Errorf("expected listen address :4000, got %s", got)
	}
}

func TestLoadBareEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("TCP_HOST", "10.0.0.7")
	t.Setenv("TCP_PORT", "9100")
	t.Setenv("WS_PORT", "8080")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Upstream.Host != "10.0.0.7" || cfg.Upstream.Port != 9100 {
		t.Errorf("expected reader 10.0.0.7:9100, got %s:%d", cfg.Upstream.Host, cfg.Upstream.Port)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadPrefixedEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("TCP_HOST", "bare-host")
	t.Setenv("CARDBRIDGE_UPSTREAM_HOST", "prefixed-host")
	t.Setenv("CARDBRIDGE_UPSTREAM_RECONNECT_DELAY", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Upstream.Host != "prefixed-host" {
		t.Errorf("expected prefixed env to win, got '%s'", cfg.Upstream.Host)
	}
	if cfg.Upstream.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms reconnect delay, got %s", cfg.Upstream.ReconnectDelay)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
upstream:
  host: reader.local
  port: 3100
  reconnect_delay: 2s
server:
  port: 4100
  max_subscribers: 1
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Upstream.Host != "reader.local" || cfg.Upstream.Port != 3100 {
		t.Errorf("expected reader.local:3100, got %s:%d", cfg.Upstream.Host, cfg.Upstream.Port)
	}
	if cfg.Upstream.ReconnectDelay != 2*time.Second {
		t.Errorf("expected 2s reconnect delay, got %s", cfg.Upstream.ReconnectDelay)
	}
	if cfg.Server.MaxSubscribers != 1 {
		t.Errorf("expected max_subscribers 1, got %d", cfg.Server.MaxSubscribers)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %s", cfg.Logging.Format)
	}
	// Unset keys keep their defaults
	if cfg.Upstream.DialTimeout != 5*time.Second {
		t.Errorf("expected default dial timeout, got %s", cfg.Upstream.DialTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("TCP_PORT", "70000")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for out of range port")
	}
}
