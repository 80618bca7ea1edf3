package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type heldLockEntry struct {
	Entity     string `json:"entity"`
	Key        string `json:"key,omitempty"`
	WholeTable bool   `json:"whole_table"`
	Type       string `json:"type"`
	Owner      string `json:"owner"`
}

type queuedLockEntry struct {
	Table string `json:"table"`
	Key   string `json:"key,omitempty"`
	Type  string `json:"type"`
	Owner string `json:"owner"`
}

type locksResponse struct {
	Held      []heldLockEntry   `json:"held"`
	Queued    []queuedLockEntry `json:"queued"`
	Timestamp time.Time         `json:"timestamp"`
}

var locksJSON bool

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show the runtime's held locks and lock queue",
	Run:   runLocks,
}

func init() {
	rootCmd.AddCommand(locksCmd)
	locksCmd.Flags().BoolVar(&locksJSON, "json", false, "Output as JSON")
}

func runLocks(_ *cobra.Command, _ []string) {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var response locksResponse
	if err := client.GetJSON("/api/v1/locks", &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching locks: %v\n", err)
		os.Exit(1)
	}

	if locksJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(response)
		return
	}

	fmt.Printf("Held locks: %d\n", len(response.Held))
	if len(response.Held) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Entity", "Key", "Target", "Type", "Owner")
		for _, l := range response.Held {
			target := "single"
			if l.WholeTable {
				target = "whole table"
			}
			_ = table.Append([]string{l.Entity, l.Key, target, l.Type, shortOwner(l.Owner)})
		}
		_ = table.Render()
	}

	fmt.Printf("Queued requests: %d\n", len(response.Queued))
	if len(response.Queued) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Table", "Key", "Type", "Owner")
		for _, q := range response.Queued {
			_ = table.Append([]string{q.Table, q.Key, q.Type, shortOwner(q.Owner)})
		}
		_ = table.Render()
	}
}

func shortOwner(owner string) string {
	if len(owner) > 8 {
		return owner[:8] + "..."
	}
	return owner
}
