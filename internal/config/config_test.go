package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Housekeeping.MarkRetention != 7*24*time.Hour {
		t.Errorf("mark retention = %s, want 168h", cfg.Housekeeping.MarkRetention)
	}
	if cfg.Supervisor.ReconnectDelay != 1500*time.Millisecond {
		t.Errorf("reconnect delay = %s, want 1.5s", cfg.Supervisor.ReconnectDelay)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("ZAPGATE_TEST_DB_PASSWORD", "sekret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 8080
database:
  host: db.internal
  password: ${ZAPGATE_TEST_DB_PASSWORD}
transport:
  store_path: /var/lib/zapgate/sessions
auto_start: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("db host = %q", cfg.Database.Host)
	}
	if cfg.Database.Password != "sekret" {
		t.Errorf("env expansion failed: %q", cfg.Database.Password)
	}
	if cfg.Transport.StorePath != "/var/lib/zapgate/sessions" {
		t.Errorf("store path = %q", cfg.Transport.StorePath)
	}
	if cfg.AutoStart {
		t.Error("auto_start override ignored")
	}
	// Untouched sections keep defaults.
	if cfg.Housekeeping.PurgeInterval != 6*time.Hour {
		t.Errorf("purge interval = %s", cfg.Housekeeping.PurgeInterval)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"missing store path", func(c *Config) { c.Transport.StorePath = "" }},
		{"negative reconnect delay", func(c *Config) { c.Supervisor.ReconnectDelay = -time.Second }},
		{"zero purge interval", func(c *Config) { c.Housekeeping.PurgeInterval = 0 }},
		{"zero retention", func(c *Config) { c.Housekeeping.MarkRetention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
