// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gatekeeper.io/dataplane/internal/daemon"
	"gatekeeper.io/dataplane/internal/log"
)

// runCmd runs the dataplane daemon in the foreground.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gatekeeper dataplane daemon in foreground",
	Long: `Run the gatekeeper dataplane daemon process in foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and the Prometheus metrics server
  3. Open front/back NIC queues and build the RSS redirection table
  4. Launch one GK worker per front queue plus the LLS worker
  5. Start the admin UDS server for CLI control
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			log.GetLogger().WithError(err).Error("daemon failed")
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	runCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "/var/run/gatekeeper.pid",
		"PID file path")
}

func runDaemon() error {
	fmt.Println("Starting gatekeeper dataplane daemon...")
	fmt.Printf("Config: %s\n", configFile)
	fmt.Printf("Socket: %s\n", socketPath)
	fmt.Printf("PID file: %s\n", pidFile)

	d, err := daemon.New(configFile, socketPath, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return d.Run()
}
