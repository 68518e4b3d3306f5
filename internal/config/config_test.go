package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loyaltydesk.yaml")
	content := `
server:
  addr: ":9090"
  cors_origins: ["https://admin.example.com"]
database:
  driver: postgres
  dsn: postgres://localhost/loyalty?sslmode=disable
auth:
  jwt_secret: s3cret
  token_ttl: 2h
messaging:
  retry_delay: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("expected 2h token ttl, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Messaging.RetryDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms retry delay, got %v", cfg.Messaging.RetryDelay)
	}
	// Untouched sections keep defaults.
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level, got %q", cfg.Log.Level)
	}
}

func TestLoadFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loyaltydesk.json")
	content := `{"database": {"driver": "memory"}, "demo": true}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if !cfg.Demo {
		t.Error("expected demo=true")
	}
}

func TestLoadFromMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("expected memory driver by default, got %q", cfg.Database.Driver)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"LOYALTYDESK_DATABASE_DRIVER": "postgres",
		"LOYALTYDESK_DATABASE_DSN":    "postgres://db/loyalty",
		"LOYALTYDESK_TOKEN_TTL":       "30m",
		"LOYALTYDESK_CORS_ORIGINS":    "https://a.example.com, https://b.example.com",
		"LOYALTYDESK_DEMO":            "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv() error: %v", err)
	}
	if cfg.Database.DSN != "postgres://db/loyalty" {
		t.Errorf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("unexpected token ttl %v", cfg.Auth.TokenTTL)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Demo {
		t.Error("expected demo=true")
	}
}

func TestEnvOverridesAreAtomic(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"LOYALTYDESK_SERVER_ADDR": ":1234",
		"LOYALTYDESK_TOKEN_TTL":   "not-a-duration",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err == nil {
		t.Fatal("expected error for bad duration")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr unchanged after failed override, got %q", cfg.Server.Addr)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when jwt secret is missing outside demo mode")
	}

	cfg = Default()
	cfg.Demo = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error in demo mode: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		t.Error("expected demo jwt secret to be filled in")
	}

	cfg = Default()
	cfg.Auth.JWTSecret = "x"
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for postgres without dsn")
	}

	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown driver")
	}
}
