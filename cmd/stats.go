// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper.io/dataplane/internal/command"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the gatekeeper daemon for runtime statistics.

Shows: per-worker mailbox publish/drop/high-water counters.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatsCommand()
	},
}

func runStatsCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.Stats(ctx)
	if err != nil {
		exitWithError("failed to query stats", err)
	}

	if resp.Error != nil {
		exitWithError(fmt.Sprintf("stats failed: %s", resp.Error.Message), nil)
	}

	resultJSON, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}

	fmt.Println(string(resultJSON))
}
