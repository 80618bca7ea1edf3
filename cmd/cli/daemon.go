package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/daemon"
)

const (
	daemonStopTimeout      = 30 * time.Second
	daemonStopPollInterval = 500 * time.Millisecond
)

var daemonPidFile string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the exporter as a long-lived service",
	Long: `Run the exporter as a service: it hosts the embedded gridstore
runtime, serves /metrics, and optionally records snapshot history.`,
	Example: `  gridstore-exporter daemon start
  gridstore-exporter daemon stop
  gridstore-exporter daemon status`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the exporter daemon",
	Long: `Start the exporter daemon in the foreground. It serves the metrics
and API endpoints until stopped with SIGTERM or 'daemon stop'.`,
	Example: `  gridstore-exporter daemon start
  gridstore-exporter daemon start --config /etc/gridstore/exporter.yaml`,
	Run: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running exporter daemon",
	Run:   runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the exporter daemon is running",
	Run:   runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)

	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "", "Path to PID file (default from config)")
}

// effectivePIDFile resolves the PID file: flag first, then config.
func effectivePIDFile() string {
	if daemonPidFile != "" {
		return daemonPidFile
	}
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return config.Default().Daemon.PIDFile
	}
	return cfg.Daemon.PIDFile
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func isDaemonRunning(path string) bool {
	pid, err := readPIDFile(path)
	if err != nil {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func runDaemonStart(_ *cobra.Command, _ []string) {
	pidFile := effectivePIDFile()
	if isDaemonRunning(pidFile) {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID file: %s)\n", pidFile)
		os.Exit(1)
	}

	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if daemonPidFile != "" {
		cfg.Daemon.PIDFile = daemonPidFile
	}

	if verbose {
		fmt.Printf("Starting daemon with configuration:\n")
		fmt.Printf("  PID file: %s\n", cfg.Daemon.PIDFile)
		fmt.Printf("  Listen: %s:%d\n", cfg.API.ListenAddr, cfg.API.Port)
		fmt.Printf("  History: %t\n", cfg.History.Enabled)
	}

	fmt.Println("Starting gridstore-exporter daemon...")
	if err := daemon.New(cfg).Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}
}

func runDaemonStop(_ *cobra.Command, _ []string) {
	pidFile := effectivePIDFile()
	if !isDaemonRunning(pidFile) {
		fmt.Printf("Daemon is not running (no PID file found at %s)\n", pidFile)
		return
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PID file: %v\n", err)
		os.Exit(1)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding daemon process: %v\n", err)
		os.Exit(1)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending stop signal to daemon: %v\n", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(daemonStopTimeout)
	for time.Now().Before(deadline) {
		if !isDaemonRunning(pidFile) {
			fmt.Println("Daemon stopped")
			return
		}
		time.Sleep(daemonStopPollInterval)
	}

	fmt.Fprintf(os.Stderr, "Daemon did not stop within %s\n", daemonStopTimeout)
	os.Exit(1)
}

func runDaemonStatus(_ *cobra.Command, _ []string) {
	pidFile := effectivePIDFile()
	if !isDaemonRunning(pidFile) {
		fmt.Println("Daemon is not running")
		return
	}

	pid, _ := readPIDFile(pidFile)
	fmt.Printf("Daemon is running (PID %d)\n", pid)

	client, err := NewAPIClient()
	if err != nil {
		return
	}
	var status statusResponse
	if err := client.GetJSON("/api/v1/status", &status); err != nil {
		fmt.Printf("API not reachable: %v\n", err)
		return
	}
	fmt.Printf("  Uptime:  %s\n", status.Uptime)
	fmt.Printf("  Runtime: running=%t tables=%d\n", status.RuntimeRunning, status.Tables)
	fmt.Printf("  Scrapes: %d\n", status.Scrapes)
}
