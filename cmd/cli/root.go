// Package cli implements the Cobra-based command-line interface for the
// exporter: running the daemon, and inspecting a running instance over
// its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/logging"
)

const (
	defaultHistoryPort = 5432
	defaultAPIPort     = 9528
)

var (
	cfgFile string
	verbose bool
)

// Build information, set through SetVersion by main.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "gridstore-exporter",
	Short: "Prometheus exporter for the gridstore table store",
	Long: `gridstore-exporter translates a gridstore node's internal state (lock
tables, transaction counters, per-table storage statistics) into
Prometheus exposition format, and serves a small JSON API for
inspecting the runtime directly.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GRIDSTORE")

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

func setConfigDefaults() {
	viper.SetDefault("api.listen_addr", "127.0.0.1")
	viper.SetDefault("api.port", defaultAPIPort)

	viper.SetDefault("metrics.enabled", []string{config.EnableAll})
	viper.SetDefault("metrics.go_collector", true)

	viper.SetDefault("history.host", "localhost")
	viper.SetDefault("history.port", defaultHistoryPort)
	viper.SetDefault("history.database", "gridstore_history")
	viper.SetDefault("history.username", "gridstore")
	viper.SetDefault("history.ssl_mode", "disable")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion records build information from main.
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// getConfigFilePath returns the config path the commands should load.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "config.yaml"
}

func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.Level == "debug",
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}
