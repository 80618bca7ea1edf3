package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type tableEntry struct {
	Name        string `json:"name"`
	MemoryBytes int64  `json:"memory_bytes"`
	Size        int64  `json:"size"`
	Available   bool   `json:"available"`
}

type tablesResponse struct {
	Tables    []tableEntry `json:"tables"`
	Timestamp time.Time    `json:"timestamp"`
}

var tablesJSON bool

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the runtime's tables and their storage statistics",
	Run:   runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.Flags().BoolVar(&tablesJSON, "json", false, "Output as JSON")
}

func runTables(_ *cobra.Command, _ []string) {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var response tablesResponse
	if err := client.GetJSON("/api/v1/tables", &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching tables: %v\n", err)
		os.Exit(1)
	}

	if tablesJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(response)
		return
	}

	if len(response.Tables) == 0 {
		fmt.Println("No tables")
		return
	}

	displayTables(response.Tables)
}

func displayTables(entries []tableEntry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Memory (bytes)", "Rows", "Stats")

	for _, entry := range entries {
		stats := "available"
		if !entry.Available {
			stats = "unavailable"
		}
		_ = table.Append([]string{
			entry.Name,
			strconv.FormatInt(entry.MemoryBytes, 10),
			strconv.FormatInt(entry.Size, 10),
			stats,
		})
	}

	_ = table.Render()
}
