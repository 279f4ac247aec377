// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper.io/dataplane/internal/command"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the gatekeeper daemon to re-read its configuration file.

Only ambient settings (logging, metrics) take effect immediately; interface
and worker topology changes require a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReloadCommand()
	},
}

func runReloadCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.ConfigReload(ctx)
	if err != nil {
		exitWithError("failed to reload configuration", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("config.reload failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Configuration reloaded successfully")
}
