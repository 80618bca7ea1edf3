// Package config provides configuration loading, validation, and the
// process-wide configuration state the collector consults on each scrape.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnableAll is the sentinel enablement entry meaning every metric.
const EnableAll = "all"

// Config represents the complete exporter configuration.
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Embedded runtime configuration
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Metrics exposition configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// API server configuration
	API APIConfig `yaml:"api" json:"api"`

	// Snapshot history configuration
	History HistoryConfig `yaml:"history" json:"history"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Path the configuration was loaded from, for reloads
	source string
}

// Source returns the path this configuration was loaded from, or an
// empty string for defaults.
func (c *Config) Source() string {
	return c.source
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// RuntimeConfig holds settings for the embedded table store runtime.
type RuntimeConfig struct {
	// Tables created at startup
	Tables []string `yaml:"tables" json:"tables"`

	// Run a demo workload against the embedded runtime so the exporter
	// has live data to report when it is not embedded in a real node
	Demo bool `yaml:"demo" json:"demo"`

	// Interval between demo workload transactions
	DemoInterval time.Duration `yaml:"demo_interval" json:"demo_interval"`
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	// Enabled lists the metric keys to expose, or the single entry "all"
	Enabled []string `yaml:"enabled" json:"enabled"`

	// Include the standard Go and process collectors
	GoCollector bool `yaml:"go_collector" json:"go_collector"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// HistoryConfig holds snapshot history store settings.
type HistoryConfig struct {
	// Enable periodic snapshot recording
	Enabled bool `yaml:"enabled" json:"enabled"`

	// PostgreSQL connection settings
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`

	// Cron schedule for snapshot recording
	Schedule string `yaml:"schedule" json:"schedule"`

	// Snapshots older than this many days are pruned on each run
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	Output    string `yaml:"output" json:"output"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/gridstore-exporter.pid",
			ShutdownTimeout: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			Tables:       []string{},
			Demo:         false,
			DemoInterval: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:     []string{EnableAll},
			GoCollector: true,
		},
		API: APIConfig{
			Enabled:        true,
			ListenAddr:     "127.0.0.1",
			Port:           9528,
			RequestTimeout: 30 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
		},
		History: HistoryConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "gridstore_history",
			Username:      "gridstore",
			SSLMode:       "disable",
			Schedule:      "@every 1m",
			RetentionDays: 14,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.source = path
	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Metrics.Enabled) == 0 {
		return fmt.Errorf("metrics.enabled must list at least one key or %q", EnableAll)
	}
	for _, key := range c.Metrics.Enabled {
		if key == "" {
			return fmt.Errorf("metrics.enabled entries must not be empty")
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("API port must be between 1 and 65535")
		}
		if c.API.ListenAddr == "" {
			return fmt.Errorf("API listen address is required when API is enabled")
		}
	}

	if c.History.Enabled {
		if c.History.Host == "" {
			return fmt.Errorf("history host is required when history is enabled")
		}
		if c.History.Database == "" {
			return fmt.Errorf("history database name is required when history is enabled")
		}
		if c.History.Username == "" {
			return fmt.Errorf("history username is required when history is enabled")
		}
		if c.History.Schedule == "" {
			return fmt.Errorf("history schedule is required when history is enabled")
		}
		if c.History.RetentionDays < 0 {
			return fmt.Errorf("history retention days must not be negative")
		}
	}

	if c.Runtime.Demo && c.Runtime.DemoInterval <= 0 {
		return fmt.Errorf("demo interval must be positive when the demo workload is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// HistoryDSN returns the PostgreSQL connection string for the history store.
func (c *Config) HistoryDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.History.Host, c.History.Port, c.History.Database,
		c.History.Username, c.History.Password, c.History.SSLMode)
}
