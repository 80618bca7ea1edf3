package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Response shapes mirrored from the exporter's JSON API.
type statusResponse struct {
	Service        string    `json:"service"`
	Version        string    `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
	Uptime         string    `json:"uptime"`
	RuntimeRunning bool      `json:"runtime_running"`
	Scrapes        uint64    `json:"scrapes"`
	Tables         int       `json:"tables"`
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running exporter's status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(_ *cobra.Command, _ []string) {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var status statusResponse
	if err := client.GetJSON("/api/v1/status", &status); err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching status: %v\n", err)
		os.Exit(1)
	}

	if statusJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(status)
		return
	}

	fmt.Printf("Service:  %s %s\n", status.Service, status.Version)
	fmt.Printf("Uptime:   %s\n", status.Uptime)
	fmt.Printf("Runtime:  running=%t tables=%d\n", status.RuntimeRunning, status.Tables)
	fmt.Printf("Scrapes:  %d\n", status.Scrapes)
}
