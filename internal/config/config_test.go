package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
	}{
		{
			name: "valid yaml config",
			setup: func(t *testing.T) string {
				content := []byte(`
metrics:
  enabled: ["held_locks", "memory_usage_bytes"]
api:
  enabled: true
  listen_addr: 0.0.0.0
  port: 9528
logging:
  level: debug
  format: json
`)
				dir := t.TempDir()
				path := filepath.Join(dir, "config.yaml")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			wantErr: false,
		},
		{
			name: "missing file returns defaults",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope.yaml")
			},
			wantErr: false,
		},
		{
			name: "malformed yaml",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				path := filepath.Join(dir, "config.yaml")
				if err := os.WriteFile(path, []byte("metrics: [unclosed"), 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			wantErr: true,
		},
		{
			name: "invalid values rejected",
			setup: func(t *testing.T) string {
				content := []byte(`
api:
  enabled: true
  listen_addr: 0.0.0.0
  port: 99999
`)
				dir := t.TempDir()
				path := filepath.Join(dir, "config.yaml")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t)
			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg == nil {
				t.Fatal("Config should not be nil on success")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Metrics.Enabled) != 1 || cfg.Metrics.Enabled[0] != EnableAll {
		t.Errorf("Default enablement should be [%q], got %v", EnableAll, cfg.Metrics.Enabled)
	}
	if !cfg.Metrics.GoCollector {
		t.Error("Go collector should be enabled by default")
	}
	if !cfg.API.Enabled {
		t.Error("API should be enabled by default")
	}
	if cfg.History.Enabled {
		t.Error("History should be disabled by default")
	}
	if cfg.Daemon.ShutdownTimeout != 30*time.Second {
		t.Errorf("Unexpected shutdown timeout: %v", cfg.Daemon.ShutdownTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default valid", func(c *Config) {}, false},
		{"empty enablement", func(c *Config) { c.Metrics.Enabled = nil }, true},
		{"blank enablement entry", func(c *Config) { c.Metrics.Enabled = []string{""} }, true},
		{"bad api port", func(c *Config) { c.API.Port = 0 }, true},
		{"missing listen addr", func(c *Config) { c.API.ListenAddr = "" }, true},
		{"api disabled skips api checks", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, false},
		{"history enabled requires host", func(c *Config) { c.History.Enabled = true; c.History.Host = "" }, true},
		{"history enabled requires schedule", func(c *Config) { c.History.Enabled = true; c.History.Schedule = "" }, true},
		{"negative retention", func(c *Config) { c.History.Enabled = true; c.History.RetentionDays = -1 }, true},
		{"demo requires interval", func(c *Config) { c.Runtime.Demo = true; c.Runtime.DemoInterval = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Enabled = []string{"held_locks", "lock_queue"}
	cfg.API.Port = 19528

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.API.Port != 19528 {
		t.Errorf("Expected port 19528, got %d", loaded.API.Port)
	}
	if len(loaded.Metrics.Enabled) != 2 {
		t.Errorf("Expected 2 enablement entries, got %v", loaded.Metrics.Enabled)
	}
}

func TestHistoryDSN(t *testing.T) {
	cfg := Default()
	cfg.History.Password = "secret"
	dsn := cfg.HistoryDSN()
	expected := "host=localhost port=5432 dbname=gridstore_history user=gridstore password=secret sslmode=disable"
	if dsn != expected {
		t.Errorf("Expected DSN %q, got %q", expected, dsn)
	}
}
