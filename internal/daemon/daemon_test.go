package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/statgrid/gridstore-exporter/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Daemon.PIDFile = filepath.Join(t.TempDir(), "test.pid")
	cfg.Daemon.ShutdownTimeout = 2 * time.Second
	cfg.API.Enabled = false
	return cfg
}

func TestNewDaemon(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg)

	if d == nil {
		t.Fatal("New() returned nil daemon")
	}
	if d.config != cfg {
		t.Error("New() did not set config")
	}
	if d.store == nil {
		t.Error("New() did not create an enablement store")
	}
	if !d.IsRunning() {
		t.Error("Fresh daemon should report running")
	}
}

func TestPIDFileHandling(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg)

	if err := d.createPIDFile(); err != nil {
		t.Fatalf("createPIDFile() error = %v", err)
	}

	content, err := os.ReadFile(cfg.Daemon.PIDFile)
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}
	expected := fmt.Sprintf("%d", os.Getpid())
	if string(content) != expected {
		t.Errorf("PID file content = %q, want %q", content, expected)
	}

	// A live PID in the file blocks a second instance.
	if err := d.createPIDFile(); err == nil {
		t.Error("createPIDFile() should refuse while our own PID is recorded")
	}
}

func TestStalePIDFileRemoved(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg)

	// A PID that cannot be a live process.
	if err := os.WriteFile(cfg.Daemon.PIDFile, []byte("999999999"), 0o600); err != nil {
		t.Fatalf("Failed to seed PID file: %v", err)
	}

	if err := d.createPIDFile(); err != nil {
		t.Errorf("createPIDFile() should clear a stale PID file, got %v", err)
	}
}

func TestInvalidPIDFileContent(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg)

	if err := os.WriteFile(cfg.Daemon.PIDFile, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("Failed to seed PID file: %v", err)
	}

	if err := d.createPIDFile(); err != nil {
		t.Errorf("createPIDFile() should replace garbage PID files, got %v", err)
	}
}

func TestInitRuntimeCreatesTables(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Tables = []string{"orders", "sessions"}

	d := New(cfg)
	if err := d.initRuntime(); err != nil {
		t.Fatalf("initRuntime() error = %v", err)
	}
	defer d.engine.Stop()

	if !d.engine.Running() {
		t.Error("Runtime should be running after init")
	}
	tables := d.engine.Tables()
	if len(tables) != 2 {
		t.Fatalf("Expected 2 tables, got %v", tables)
	}
}

func TestInitRuntimeDuplicateTable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Tables = []string{"orders", "orders"}

	d := New(cfg)
	if err := d.initRuntime(); err == nil {
		d.engine.Stop()
		t.Fatal("initRuntime() should fail on duplicate table names")
	}
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Tables = []string{"orders"}

	d := New(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start() }()

	// Wait for startup; the PID file appears before the main loop runs.
	deadline := time.After(5 * time.Second)
	for {
		if _, err := os.Stat(cfg.Daemon.PIDFile); err == nil {
			break
		}
		select {
		case err := <-errCh:
			t.Fatalf("Start() exited early: %v", err)
		case <-deadline:
			t.Fatal("Daemon did not start in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	if _, err := os.Stat(cfg.Daemon.PIDFile); !os.IsNotExist(err) {
		t.Error("PID file should be removed on shutdown")
	}
	if d.engine.Running() {
		t.Error("Runtime should be stopped on shutdown")
	}
}
