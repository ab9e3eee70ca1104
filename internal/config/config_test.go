package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Concurrency_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.General.Concurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for concurrency=0")
	}
}

func TestValidate_Concurrency_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.General.Concurrency = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("concurrency=1 should be valid: %v", err)
	}

	cfg.General.Concurrency = 64
	if err := Validate(cfg); err != nil {
		t.Fatalf("concurrency=64 should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Transport.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_EmptyPrefix(t *testing.T) {
	cfg := Defaults()
	cfg.Commands.Prefix = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty command prefix")
	}
}

func TestValidate_PrefixWithWhitespace(t *testing.T) {
	cfg := Defaults()
	cfg.Commands.Prefix = ". "
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for whitespace in prefix")
	}
}

func TestValidate_MarkerTTLBelowRetention(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.RetentionMinutes = 120
	cfg.Recovery.MarkerTTLMinutes = 60
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error: marker TTL below cache retention")
	}
}

func TestValidate_MirrorEnabledWithoutToken(t *testing.T) {
	cfg := Defaults()
	cfg.Mirror.Enabled = true
	cfg.Mirror.ChatID = 42
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled mirror without token")
	}
}

func TestValidate_WebhookPathMustBeAbsolute(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.WebhookPath = "webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative webhook path")
	}
}

// --- Load / Save ---

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.OwnerID = "owner@s.whatsapp.net"
	cfg.Cache.RetentionMinutes = 45
	cfg.Recovery.MarkerTTLMinutes = 90

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.General.OwnerID != "owner@s.whatsapp.net" {
		t.Fatalf("ownerId = %q", loaded.General.OwnerID)
	}
	if loaded.Cache.RetentionMinutes != 45 {
		t.Fatalf("retentionMinutes = %d", loaded.Cache.RetentionMinutes)
	}
}

func TestLoadAppliesDefaultsForMissingSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := os.WriteFile(path, []byte(`{"general":{"ownerId":"me@s.whatsapp.net"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Commands.Prefix != "." {
		t.Fatalf("default prefix lost: %q", cfg.Commands.Prefix)
	}
	if cfg.Cache.SweepIntervalSeconds != 600 {
		t.Fatalf("default sweep interval lost: %d", cfg.Cache.SweepIntervalSeconds)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	body := "general:\n  ownerId: me@s.whatsapp.net\ncache:\n  retentionMinutes: 15\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.General.OwnerID != "me@s.whatsapp.net" {
		t.Fatalf("ownerId = %q", cfg.General.OwnerID)
	}
	if cfg.Cache.RetentionMinutes != 15 {
		t.Fatalf("retentionMinutes = %d", cfg.Cache.RetentionMinutes)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := os.WriteFile(path, []byte(`{"commands":{"prefix":""}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

// --- Env var expansion ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VAULTBOT_TEST_TOKEN", "secret-token")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", `"${VAULTBOT_TEST_TOKEN}"`, `"secret-token"`},
		{"unset keeps original", `"${VAULTBOT_TEST_UNSET}"`, `"${VAULTBOT_TEST_UNSET}"`},
		{"unset with default", `"${VAULTBOT_TEST_UNSET:-fallback}"`, `"fallback"`},
		{"set overrides default", `"${VAULTBOT_TEST_TOKEN:-fallback}"`, `"secret-token"`},
		{"no variables", `"plain"`, `"plain"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvVars(tt.input); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("VAULTBOT_TEST_SECRET", "hunter2secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"transport":{"appSecret":"${VAULTBOT_TEST_SECRET}"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.AppSecret != "hunter2secret" {
		t.Fatalf("appSecret = %q", cfg.Transport.AppSecret)
	}
}

// --- Accessors ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	cfg.General.OwnerID = "me@s.whatsapp.net"

	v, err := GetByPath(cfg, "general.ownerId")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "me@s.whatsapp.net" {
		t.Fatalf("got %v", v)
	}

	if _, err := GetByPath(cfg, "general.nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "cache.retentionMinutes", "45"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Cache.RetentionMinutes != 45 {
		t.Fatalf("retentionMinutes = %d", cfg.Cache.RetentionMinutes)
	}

	if err := SetByPath(cfg, "mirror.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Mirror.Enabled {
		t.Fatal("mirror.enabled not set")
	}
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Transport.AccessToken = "EAAG-very-long-access-token"
	cfg.Mirror.Token = "123456789:telegram-bot-token"

	s := Sanitize(cfg)
	if s.Transport.AccessToken == cfg.Transport.AccessToken {
		t.Fatal("access token not masked")
	}
	if strings.Contains(s.Mirror.Token, "telegram-bot") {
		t.Fatalf("mirror token leaked: %q", s.Mirror.Token)
	}
	// Original must be untouched.
	if cfg.Transport.AccessToken != "EAAG-very-long-access-token" {
		t.Fatal("sanitize mutated original")
	}
}

func TestListPathsFlattens(t *testing.T) {
	paths := ListPaths(Defaults())
	if _, ok := paths["cache.retentionMinutes"]; !ok {
		t.Fatal("missing cache.retentionMinutes")
	}
	if _, ok := paths["transport.webhookPath"]; !ok {
		t.Fatal("missing transport.webhookPath")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := ExpandPath("~/x.db")
	if got != filepath.Join(home, "x.db") {
		t.Fatalf("got %q", got)
	}
	if ExpandPath("/abs/x.db") != "/abs/x.db" {
		t.Fatal("absolute path must pass through")
	}
}
