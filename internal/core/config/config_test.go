package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/solatis/cascade/internal/executor/archive"
	"github.com/solatis/cascade/internal/types"
)

const testSecret = "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"

func TestHMACSecrets(t *testing.T) {
	t.Run("single secret", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET", testSecret)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Errorf("secret_id not found in map")
		}
	})

	t.Run("multiple numbered secrets", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET_1", testSecret)
		t.Setenv("CASCADE_HMAC_SECRET_2", "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("numbering stops at first gap", func(t *testing.T) {
		t.Setenv("CASCADE_HMAC_SECRET_1", testSecret)
		t.Setenv("CASCADE_HMAC_SECRET_3", "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
	})

	errorCases := []struct {
		name string
		env  map[string]string
	}{
		{"invalid format", map[string]string{"CASCADE_HMAC_SECRET": "invalid_format"}},
		{"invalid secret_id length", map[string]string{"CASCADE_HMAC_SECRET": "short:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"}},
		{"non-hex secret_id", map[string]string{"CASCADE_HMAC_SECRET": "0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"}},
		{"duplicate secret_id in numbered secrets", map[string]string{
			"CASCADE_HMAC_SECRET_1": testSecret,
			"CASCADE_HMAC_SECRET_2": "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		}},
		{"duplicate secret_id between single and numbered", map[string]string{
			"CASCADE_HMAC_SECRET":   testSecret,
			"CASCADE_HMAC_SECRET_1": "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		}},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := HMACSecrets(); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.API.Host != "0.0.0.0" || cfg.API.Port != 50051 {
			t.Errorf("expected 0.0.0.0:50051, got %s", cfg.API.Addr())
		}
		if cfg.API.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.API.RequestTimeout)
		}
		if cfg.Engine.RulesSource != RulesSourceDir || cfg.Engine.RulesDir != "./rules" {
			t.Errorf("unexpected rules source %s:%s", cfg.Engine.RulesSource, cfg.Engine.RulesDir)
		}
		if cfg.Engine.Workers != 4 || cfg.Engine.QueueSize != 1024 {
			t.Errorf("unexpected pool %d/%d", cfg.Engine.Workers, cfg.Engine.QueueSize)
		}
		if cfg.Archive.CacheCapacity != 64 || cfg.Archive.CacheTTL != 60*time.Second {
			t.Errorf("unexpected archive cache %d/%v", cfg.Archive.CacheCapacity, cfg.Archive.CacheTTL)
		}
		if cfg.Archive.DiscriminatorKey != "archive_type" || cfg.Archive.EventKey != "event" {
			t.Errorf("unexpected archive keys %q/%q", cfg.Archive.DiscriminatorKey, cfg.Archive.EventKey)
		}
		if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
			t.Errorf("unexpected log config %+v", cfg.Log)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `
engine:
  rules_dir: /etc/cascade/rules
  workers: 8
  hot_reload: true
  reload_debounce: 250ms
archive:
  base_path: /data
  default_path: /default/default.log
  cache_capacity: 16
  cache_ttl: 2m
  paths:
    trap: /trap/${source}/all.log
    syslog: /syslog/${host}.log
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Engine.RulesDir != "/etc/cascade/rules" || cfg.Engine.Workers != 8 || !cfg.Engine.HotReload {
			t.Errorf("unexpected engine config %+v", cfg.Engine)
		}
		if cfg.Engine.ReloadDebounce != 250*time.Millisecond {
			t.Errorf("expected debounce 250ms, got %v", cfg.Engine.ReloadDebounce)
		}
		if cfg.Archive.BasePath != "/data" || cfg.Archive.CacheCapacity != 16 || cfg.Archive.CacheTTL != 2*time.Minute {
			t.Errorf("unexpected archive config %+v", cfg.Archive)
		}
		if got := cfg.Archive.Paths["trap"]; got != "/trap/${source}/all.log" {
			t.Errorf("expected trap template, got %q", got)
		}
		if len(cfg.Archive.Paths) != 2 {
			t.Errorf("expected 2 archive paths, got %d", len(cfg.Archive.Paths))
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("CASCADE_API_PORT", "9999")
		t.Setenv("CASCADE_API_HOST", "127.0.0.1")
		t.Setenv("CASCADE_ENGINE_WORKERS", "2")

		cfg, err := LoadConfig(writeConfig(t, "api:\n  port: 7000\n"))
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.API.Addr() != "127.0.0.1:9999" {
			t.Errorf("expected 127.0.0.1:9999, got %s", cfg.API.Addr())
		}
		if cfg.Engine.Workers != 2 {
			t.Errorf("expected 2 workers, got %d", cfg.Engine.Workers)
		}
	})

	invalid := []struct {
		name string
		env  map[string]string
	}{
		{"port range", map[string]string{"CASCADE_API_PORT": "70000"}},
		{"negative max_connections", map[string]string{"CASCADE_API_MAX_CONNECTIONS": "-1"}},
		{"zero workers", map[string]string{"CASCADE_ENGINE_WORKERS": "0"}},
		{"unknown rules source", map[string]string{"CASCADE_ENGINE_RULES_SOURCE": "etcd"}},
		{"sql source without db", map[string]string{"CASCADE_ENGINE_RULES_SOURCE": "sql"}},
		{"sql source with hot reload", map[string]string{
			"CASCADE_ENGINE_RULES_SOURCE": "sql",
			"CASCADE_DB_URL":              "sqlite://x.db",
			"CASCADE_ENGINE_HOT_RELOAD":   "true",
		}},
		{"bad log level", map[string]string{"CASCADE_LOG_LEVEL": "loud"}},
		{"bad log format", map[string]string{"CASCADE_LOG_FORMAT": "xml"}},
		{"zero cache capacity", map[string]string{"CASCADE_ARCHIVE_CACHE_CAPACITY": "0"}},
	}
	for _, tc := range invalid {
		t.Run("invalid "+tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}

	t.Run("secret in config file rejected", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "api:\n  hmac_secret: \"should_be_rejected\"\n"))
		if err == nil {
			t.Fatal("expected error for secret in config file")
		}
		if err.Error() != "HMAC secrets not allowed in config files (use CASCADE_HMAC_SECRET environment variable)" {
			t.Fatalf("wrong error message: %v", err)
		}
	})
}

func TestArchivePathsFromConfig(t *testing.T) {
	base := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
archive:
  base_path: %s
  default_path: /default/default.log
  paths:
    SNMPTrap: /trap/${source}/all.log
`, base))
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	cfg.Archive.SweepInterval = 0

	e, err := archive.New(cfg.Archive)
	if err != nil {
		t.Fatalf("archive.New failed: %v", err)
	}
	defer e.Close()

	payload, err := types.ParseJSON([]byte(`{"archive_type":"SNMPTrap","source":"127.0.0.1"}`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	got, err := e.ResolvePath(payload)
	if err != nil {
		t.Fatalf("ResolvePath failed: %v", err)
	}
	want := filepath.Join(base, "trap", "127.0.0.1", "all.log")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestParseHMACSecret(t *testing.T) {
	t.Run("valid base64", func(t *testing.T) {
		secret, err := ParseHMACSecret("dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		if err != nil {
			t.Fatalf("ParseHMACSecret failed: %v", err)
		}
		if len(secret) < 32 {
			t.Errorf("secret too short: %d bytes", len(secret))
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := ParseHMACSecret("not-valid-base64!!!"); err == nil {
			t.Error("expected error for invalid base64")
		}
	})

	t.Run("secret too short", func(t *testing.T) {
		if _, err := ParseHMACSecret("c2hvcnQ="); err == nil {
			t.Error("expected error for secret < 32 bytes")
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	secretID, secret, err := ParseHMACSecretWithID(testSecret)
	if err != nil {
		t.Fatalf("ParseHMACSecretWithID failed: %v", err)
	}
	if secretID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("unexpected secret_id: %s", secretID)
	}
	if len(secret) == 0 {
		t.Error("secret should not be empty")
	}

	for _, bad := range []string{
		"0123456789abcdef0123456789abcdef",
		"tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		"0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		"0123456789abcdef0123456789abcdef:c2hvcnQ=",
	} {
		if _, _, err := ParseHMACSecretWithID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
