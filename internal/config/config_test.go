package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "multi-wan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `opnsense:
  host: "opnsense.local"
  key: "testkey"
  secret: "testsecret"
interfaces:
  - name: wan1
    id: "1.0.0.0"
    priority: 1
  - name: wan2
    id: "2.0.0.0"
    priority: 2
dns:
  provider: gandi
  settings:
    api_key: "gandikey"
    domain: "example.com"
health:
  enabled: true
  url: "https://hc-ping.com/some-uuid"
`

func TestLoadFromPath(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OPNsense.Host != "opnsense.local" {
		t.Errorf("expected host 'opnsense.local', got %q", cfg.OPNsense.Host)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(cfg.Interfaces))
	}
	if cfg.Interfaces[0].Name != "wan1" || cfg.Interfaces[0].ID != "1.0.0.0" || cfg.Interfaces[0].Priority != 1 {
		t.Errorf("unexpected first interface: %+v", cfg.Interfaces[0])
	}
	if cfg.DNS.Provider != "gandi" {
		t.Errorf("expected dns provider 'gandi', got %q", cfg.DNS.Provider)
	}
	if !cfg.Health.Enabled || cfg.Health.URL != "https://hc-ping.com/some-uuid" {
		t.Errorf("unexpected health config: %+v", cfg.Health)
	}
}

func TestLoadFromPath_Defaults(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OPNsense.Timeout != 5 {
		t.Errorf("expected default timeout 5, got %d", cfg.OPNsense.Timeout)
	}
	if cfg.Interval != 10 {
		t.Errorf("expected default interval 10, got %d", cfg.Interval)
	}
	if cfg.OPNsense.Scheme() != "https" {
		t.Errorf("expected default scheme 'https', got %q", cfg.OPNsense.Scheme())
	}
	if cfg.OPNsense.SkipTLSVerify {
		t.Error("expected skip_tls_verify to default to false")
	}
}

func TestLoadFromPath_HTTPScheme(t *testing.T) {
	content := strings.Replace(validConfig, "opnsense:\n", "opnsense:\n  use_https: false\n", 1)
	cfg, err := LoadFromPath(writeConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OPNsense.Scheme() != "http" {
		t.Errorf("expected scheme 'http', got %q", cfg.OPNsense.Scheme())
	}
}

func TestLoadFromPath_MissingFields(t *testing.T) {
	content := `opnsense:
  host: "opnsense.local"
dns:
  provider: gandi
`
	_, err := LoadFromPath(writeConfig(t, content))
	if err == nil {
		t.Fatal("expected error for incomplete config, got nil")
	}
	for _, want := range []string{"opnsense.key", "opnsense.secret", "interfaces"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to name missing field %q, got: %v", want, err)
		}
	}
}

func TestLoadFromPath_HealthURLRequiredWhenEnabled(t *testing.T) {
	content := strings.Replace(validConfig,
		"health:\n  enabled: true\n  url: \"https://hc-ping.com/some-uuid\"\n",
		"health:\n  enabled: true\n", 1)
	_, err := LoadFromPath(writeConfig(t, content))
	if err == nil {
		t.Fatal("expected error for enabled health without url, got nil")
	}
	if !strings.Contains(err.Error(), "health.url") {
		t.Errorf("expected error to name health.url, got: %v", err)
	}
}

func TestLoadFromPath_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_OPNSENSE_SECRET", "secret-from-env")
	t.Setenv("TEST_GANDI_KEY", "gandi-from-env")

	content := strings.Replace(validConfig, `secret: "testsecret"`, `secret: "${TEST_OPNSENSE_SECRET}"`, 1)
	content = strings.Replace(content, `api_key: "gandikey"`, `api_key: "${TEST_GANDI_KEY}"`, 1)

	cfg, err := LoadFromPath(writeConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OPNsense.Secret != "secret-from-env" {
		t.Errorf("expected secret 'secret-from-env', got %q", cfg.OPNsense.Secret)
	}
	if cfg.DNS.Settings["api_key"] != "gandi-from-env" {
		t.Errorf("expected api_key 'gandi-from-env', got %q", cfg.DNS.Settings["api_key"])
	}
	// Literals stay as-is.
	if cfg.OPNsense.Key != "testkey" {
		t.Errorf("expected key 'testkey', got %q", cfg.OPNsense.Key)
	}
}

func TestLoadFromPath_DuplicateInterface(t *testing.T) {
	content := strings.Replace(validConfig, "name: wan2", "name: wan1", 1)
	_, err := LoadFromPath(writeConfig(t, content))
	if err == nil {
		t.Fatal("expected error for duplicate interface name, got nil")
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	if _, err := LoadFromPath("/nonexistent/path/multi-wan.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_UsesEnvPath(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OPNsense.Host != "opnsense.local" {
		t.Errorf("expected host 'opnsense.local', got %q", cfg.OPNsense.Host)
	}
}
