// Package cli implements infergate's command-line interface using Cobra: a
// thin wrapper around the daemon exposing serve and transport subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "infergate",
	Short: "infergate — JSON-RPC gateway to an on-device inference runtime",
	Long: `infergate exposes a local neural inference runtime over five
transports (stdio, TCP, UDP, HTTP, WebSocket) using JSON-RPC 2.0, with
streaming token delivery, a fixed-slot handle pool, and a recovery
supervisor that restarts failed transports under exponential backoff.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
