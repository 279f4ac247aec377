// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - DoS-mitigation packet dataplane",
	Long: `Gatekeeper runs the per-flow classify/grant/decline dataplane in front of a
protected destination, steering ARP/ND resolution through a dedicated LLS
worker and forwarding granted traffic onward encapsulated to the next hop.

The binary doubles as the daemon (run) and as an admin CLI talking to a
running daemon over its Unix Domain Socket (stop, status, stats, reload,
policy).`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/gatekeeper/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/gatekeeper.sock",
		"daemon socket path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
