package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type enabledResponse struct {
	All     bool     `json:"all"`
	Enabled []string `json:"enabled,omitempty"`
	Known   []string `json:"known"`
}

type enabledRequest struct {
	Enabled []string `json:"enabled"`
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect and change which metrics the exporter emits",
}

var metricsEnabledCmd = &cobra.Command{
	Use:   "enabled",
	Short: "Show the enablement set in effect",
	Run:   runMetricsEnabled,
}

var metricsEnableCmd = &cobra.Command{
	Use:   "enable <key>...",
	Short: "Replace the enablement set",
	Long: `Replace the set of metric keys the exporter emits. Pass 'all' to
emit every metric. The change applies from the next scrape.`,
	Example: `  gridstore-exporter metrics enable all
  gridstore-exporter metrics enable held_locks memory_usage_bytes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runMetricsEnable,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsEnabledCmd)
	metricsCmd.AddCommand(metricsEnableCmd)
}

func runMetricsEnabled(_ *cobra.Command, _ []string) {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var response enabledResponse
	if err := client.GetJSON("/api/v1/metrics/enabled", &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching enablement: %v\n", err)
		os.Exit(1)
	}

	printEnabled(&response)
}

func runMetricsEnable(_ *cobra.Command, args []string) {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var response enabledResponse
	if err := client.PutJSON("/api/v1/metrics/enabled", enabledRequest{Enabled: args}, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating enablement: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Enablement updated")
	printEnabled(&response)
}

func printEnabled(response *enabledResponse) {
	if verbose {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(response)
		return
	}

	if response.All {
		fmt.Println("Enabled: all")
	} else {
		fmt.Printf("Enabled: %s\n", strings.Join(response.Enabled, ", "))
	}
	fmt.Printf("Known keys: %s\n", strings.Join(response.Known, ", "))
}
