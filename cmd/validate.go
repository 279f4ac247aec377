// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gatekeeper.io/dataplane/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a gatekeeper configuration file",
	Long: `Validate a gatekeeper configuration file without starting the daemon.

This is useful for pre-checking configuration before a restart.

Examples:
  gatekeeper validate -f /etc/gatekeeper/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (defaults to --config)")
}

func runValidateCommand() {
	path := validateConfigFile
	if path == "" {
		path = configFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VALID: front=%s (%d workers) back=%s workers_mailbox=%d flow_table=%d\n",
		cfg.Front.Device, cfg.Front.Workers, cfg.Back.Device,
		cfg.GK.MailboxCapacity, cfg.GK.FlowTableCapacity,
	)
}
