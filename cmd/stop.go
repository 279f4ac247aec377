// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper.io/dataplane/internal/command"
)

// stopCmd represents the stop command.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gatekeeper daemon",
	Long: `Stop the gatekeeper daemon gracefully.

Sends the admin.shutdown command over the Unix Domain Socket; the daemon
stops every GK and LLS worker, closes its NIC handles, and exits cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func runStopCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	resp, err := client.Shutdown(ctx)
	if err != nil {
		exitWithError("failed to send shutdown command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("admin.shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Shutdown requested.")
}
