package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		expected string
	}{
		{"debug level", LevelDebug, "debug"},
		{"info level", LevelInfo, "info"},
		{"warn level", LevelWarn, "warn"},
		{"error level", LevelError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.level) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.level))
			}
		})
	}
}

func TestLogFormat(t *testing.T) {
	tests := []struct {
		name     string
		format   LogFormat
		expected string
	}{
		{"text format", FormatText, "text"},
		{"json format", FormatJSON, "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.format) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.format))
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got '%s'", cfg.Output)
	}
	if cfg.AddSource {
		t.Error("Expected AddSource to be false by default")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout text logger", func(t *testing.T) {
		cfg := Config{
			Level:  LevelInfo,
			Format: FormatText,
			Output: "stdout",
		}

		logger, err := New(cfg)
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if logger == nil {
			t.Fatal("Logger should not be nil")
		}
		if logger.config.Level != LevelInfo {
			t.Errorf("Expected level %s, got %s", LevelInfo, logger.config.Level)
		}
	})

	t.Run("stderr json logger", func(t *testing.T) {
		cfg := Config{
			Level:  LevelDebug,
			Format: FormatJSON,
			Output: "stderr",
		}

		logger, err := New(cfg)
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if logger == nil {
			t.Fatal("Logger should not be nil")
		}
	})

	t.Run("file output", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "logs", "exporter.log")

		cfg := Config{
			Level:  LevelInfo,
			Format: FormatText,
			Output: path,
		}

		logger, err := New(cfg)
		if err != nil {
			t.Fatalf("Failed to create file logger: %v", err)
		}

		logger.Info("hello from the test")

		if _, err := os.Stat(path); err != nil {
			t.Errorf("Log file should exist: %v", err)
		}
	})

	t.Run("unknown level defaults to info", func(t *testing.T) {
		cfg := Config{
			Level:  LogLevel("extreme"),
			Format: FormatText,
			Output: "stdout",
		}

		logger, err := New(cfg)
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if logger == nil {
			t.Fatal("Logger should not be nil")
		}
	})
}

func TestLoggerWithHelpers(t *testing.T) {
	logger := NewDefault()

	t.Run("with component", func(t *testing.T) {
		scoped := logger.WithComponent("collector")
		if scoped == nil {
			t.Fatal("Scoped logger should not be nil")
		}
		scoped.Info("component scoped message")
	})

	t.Run("with metric", func(t *testing.T) {
		scoped := logger.WithMetric("held_locks")
		if scoped == nil {
			t.Fatal("Scoped logger should not be nil")
		}
	})

	t.Run("with table", func(t *testing.T) {
		scoped := logger.WithTable("orders")
		if scoped == nil {
			t.Fatal("Scoped logger should not be nil")
		}
	})

	t.Run("with error", func(t *testing.T) {
		scoped := logger.WithError(fmt.Errorf("boom"))
		if scoped == nil {
			t.Fatal("Scoped logger should not be nil")
		}
	})
}

func TestDefaultLoggerSwap(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	replacement := NewDefault()
	SetDefault(replacement)

	if Default() != replacement {
		t.Error("SetDefault should replace the default logger")
	}

	// Package-level helpers should route through the replacement without panicking.
	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	InfoScrape("scrape message", "families", 11)
	ErrorScrape("scrape error", fmt.Errorf("boom"))
	InfoDaemon("daemon message")
	ErrorDaemon("daemon error", fmt.Errorf("boom"))
}
