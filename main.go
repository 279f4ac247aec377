// Package main is the entry point for the gatekeeper dataplane daemon.
package main

import (
	"fmt"
	"os"

	"gatekeeper.io/dataplane/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
