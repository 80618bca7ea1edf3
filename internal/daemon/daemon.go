// Package daemon runs the exporter as a long-lived process: it owns the
// embedded runtime, the Prometheus exporter, the API server, and the
// optional snapshot history recorder, and coordinates their lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/statgrid/gridstore-exporter/internal/api"
	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/history"
	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/metrics"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600
)

// Daemon is the exporter process.
type Daemon struct {
	config    *config.Config
	store     *config.Store
	engine    *runtime.Engine
	exporter  *metrics.Exporter
	apiServer *api.Server
	recorder  *history.Recorder
	histStore *history.Store
	demo      *demoWorkload
	pidFile   string
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.RWMutex
}

// New creates a daemon from a validated configuration.
func New(cfg *config.Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  cfg,
		store:   config.NewStore(cfg),
		pidFile: cfg.Daemon.PIDFile,
		logger:  logging.Default().WithComponent("daemon"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start brings up every component and blocks in the main loop until
// shutdown.
func (d *Daemon) Start() error {
	d.logger.Info("Starting gridstore-exporter daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, defaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initRuntime(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	if err := d.initExporter(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize exporter: %w", err)
	}

	if err := d.initHistory(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize history recorder: %w", err)
	}

	if err := d.initAPIServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	d.logger.Info("Daemon started")
	return d.run()
}

// Stop requests shutdown and waits for the main loop to drain.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")

	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped gracefully")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Error("Shutdown timeout reached, forcing exit")
	}

	d.cleanup()
	return nil
}

// initRuntime starts the embedded table store and creates the
// configured tables.
func (d *Daemon) initRuntime() error {
	engine := runtime.NewEngine()
	engine.Start()

	for _, table := range d.config.Runtime.Tables {
		if err := engine.CreateTable(table); err != nil {
			return fmt.Errorf("creating table %s: %w", table, err)
		}
	}

	d.engine = engine
	d.logger.InfoRuntime("Runtime started", "tables", len(d.config.Runtime.Tables))

	if d.config.Runtime.Demo {
		d.demo = newDemoWorkload(engine, d.config.Runtime.DemoInterval, d.logger)
		d.demo.start(d.ctx)
	}
	return nil
}

func (d *Daemon) initExporter() error {
	exporter, err := metrics.NewExporter(d.engine, d.store, d.config, logging.Default())
	if err != nil {
		return err
	}
	d.exporter = exporter
	d.logger.Info("Exporter initialized")
	return nil
}

// initHistory connects the snapshot store when enabled. History is
// optional: the exporter runs fine without it.
func (d *Daemon) initHistory() error {
	if !d.config.History.Enabled {
		d.logger.Info("History recorder disabled, skipping")
		return nil
	}

	store, err := history.Connect(d.ctx, d.config)
	if err != nil {
		return err
	}

	recorder := history.NewRecorder(store, d.engine, d.config, logging.Default())
	if err := recorder.Start(); err != nil {
		_ = store.Close()
		return err
	}

	d.histStore = store
	d.recorder = recorder
	d.logger.InfoHistory("History recorder started", "schedule", d.config.History.Schedule)
	return nil
}

func (d *Daemon) initAPIServer() error {
	if !d.config.API.Enabled {
		d.logger.Info("API server disabled, skipping")
		return nil
	}

	server, err := api.New(d.config, d.store, d.engine, d.exporter, logging.Default())
	if err != nil {
		return fmt.Errorf("API server creation failed: %w", err)
	}

	d.apiServer = server
	d.logger.Info("API server initialized", "address", server.Address())
	return nil
}

func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, defaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), defaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID refuses to start while another instance holds the
// PID file, and clears stale files left by a crashed one.
func (d *Daemon) checkExistingPID() error {
	if _, err := os.Stat(d.pidFile); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
	)

	go func() {
		for sig := range sigChan {
			d.logger.Info("Received signal", "signal", sig.String())

			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.cancel()
				return
			case syscall.SIGHUP:
				if err := d.reloadConfiguration(); err != nil {
					d.logger.Error("Configuration reload failed", "error", err)
				} else {
					d.logger.Info("Configuration reloaded")
				}
			}
		}
	}()
}

// run blocks until the context is cancelled.
func (d *Daemon) run() error {
	if d.apiServer != nil {
		go func() {
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
				d.cancel()
			}
		}()
	}

	<-d.ctx.Done()
	d.logger.Info("Shutdown signal received")
	close(d.done)
	return nil
}

// reloadConfiguration re-reads the config file and applies the parts
// that can change at runtime. Today that is the enablement set; listen
// addresses and history connections need a restart.
func (d *Daemon) reloadConfiguration() error {
	path := d.config.Source()
	newConfig, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("new configuration is invalid: %w", err)
	}

	d.store.SetEnabled(newConfig.Metrics.Enabled)

	d.mu.Lock()
	d.config.Metrics = newConfig.Metrics
	d.mu.Unlock()

	d.logger.Info("Enablement set reloaded", "enabled", newConfig.Metrics.Enabled)
	return nil
}

func (d *Daemon) cleanup() {
	d.logger.Info("Performing cleanup")

	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			d.logger.Error("Error stopping API server", "error", err)
		}
	}

	if d.recorder != nil {
		d.recorder.Stop()
	}
	if d.histStore != nil {
		if err := d.histStore.Close(); err != nil {
			d.logger.Error("Error closing history store", "error", err)
		}
	}

	if d.exporter != nil {
		d.exporter.Close()
	}

	if d.engine != nil {
		d.engine.Stop()
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Error("Error removing PID file", "error", err)
		}
	}

	d.logger.Info("Cleanup completed")
}

// Engine returns the embedded runtime.
func (d *Daemon) Engine() *runtime.Engine {
	return d.engine
}

// IsRunning reports whether shutdown has been requested.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}
