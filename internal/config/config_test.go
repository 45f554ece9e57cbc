package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerFromEnvDefaults(t *testing.T) {
	t.Setenv("MODE", "")
	cfg, err := ServerFromEnv()
	if err != nil {
		t.Fatalf("ServerFromEnv: %v", err)
	}
	if cfg.Mode != ModeOffline || cfg.HTTPAddr != ":8080" || cfg.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PaymentGateway != "sandbox" {
		t.Fatalf("gateway = %q", cfg.PaymentGateway)
	}
	if got := cfg.CORSOrigins(); len(got) != 1 || got[0] != "http://localhost:3000" {
		t.Fatalf("offline origins = %v", got)
	}
}

func TestServerFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("CORS_ORIGINS_ONLINE", "https://a.example, https://b.example")
	t.Setenv("AUTH_TOKEN_TTL", "30m")
	cfg, err := ServerFromEnv()
	if err != nil {
		t.Fatalf("ServerFromEnv: %v", err)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("ttl = %v", cfg.TokenTTL)
	}
	if len(cfg.CORSOrigins()) != 2 {
		t.Fatalf("online origins = %v", cfg.CORSOrigins())
	}
}

func TestServerFromEnvRejectsUnknownMode(t *testing.T) {
	t.Setenv("MODE", "hybrid")
	if _, err := ServerFromEnv(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestClientFromEnv(t *testing.T) {
	t.Setenv("CBT_API_URL", "http://api.test")
	t.Setenv("CBT_SESSION_FILE", "/tmp/s.json")
	t.Setenv("CBT_VERIFY_ATTEMPTS", "3")
	cfg, err := ClientFromEnv()
	if err != nil {
		t.Fatalf("ClientFromEnv: %v", err)
	}
	if cfg.APIURL != "http://api.test" || cfg.SessionFile != "/tmp/s.json" || cfg.VerifyAttempts != 3 {
		t.Fatalf("unexpected: %+v", cfg)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("timeout = %v", cfg.RequestTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	if err := os.WriteFile(p, []byte("CBT_DOTENV_PROBE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CBT_DOTENV_PROBE", "")
	os.Unsetenv("CBT_DOTENV_PROBE")
	if err := LoadDotEnv(p, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CBT_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("probe = %q", got)
	}
}
