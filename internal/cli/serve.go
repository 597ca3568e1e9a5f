package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/infergate/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the infergate gateway",
	Long:  `Start the JSON-RPC gateway process, binding every transport enabled in config.toml.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}
