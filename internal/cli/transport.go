package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/infergate/internal/daemon"
)

func init() {
	transportCmd.AddCommand(transportEnableCmd)
	transportCmd.AddCommand(transportDisableCmd)
	transportCmd.AddCommand(transportListCmd)
	rootCmd.AddCommand(transportCmd)
}

var transportCmd = &cobra.Command{
	Use:   "transport",
	Short: "Enable or disable a gateway transport",
}

var transportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transports and whether they are enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.LoadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("stdio      %v\n", cfg.Stdio.Enabled)
		fmt.Printf("tcp        %v (%s)\n", cfg.TCP.Enabled, cfg.TCP.Addr)
		fmt.Printf("udp        %v (%s)\n", cfg.UDP.Enabled, cfg.UDP.Addr)
		fmt.Printf("http       %v (%s)\n", cfg.HTTP.Enabled, cfg.HTTP.Addr)
		fmt.Printf("websocket  %v (%s%s)\n", cfg.WebSocket.Enabled, cfg.WebSocket.Addr, cfg.WebSocket.Path)
		return nil
	},
}

var transportEnableCmd = &cobra.Command{
	Use:       "enable [stdio|tcp|udp|http|websocket]",
	Short:     "Enable a transport and persist it to config.toml",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"stdio", "tcp", "udp", "http", "websocket"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTransportEnabled(args[0], true)
	},
}

var transportDisableCmd = &cobra.Command{
	Use:       "disable [stdio|tcp|udp|http|websocket]",
	Short:     "Disable a transport and persist it to config.toml",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"stdio", "tcp", "udp", "http", "websocket"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTransportEnabled(args[0], false)
	},
}

func setTransportEnabled(name string, enabled bool) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	switch name {
	case "stdio":
		cfg.Stdio.Enabled = enabled
	case "tcp":
		cfg.TCP.Enabled = enabled
	case "udp":
		cfg.UDP.Enabled = enabled
	case "http":
		cfg.HTTP.Enabled = enabled
	case "websocket":
		cfg.WebSocket.Enabled = enabled
	default:
		return fmt.Errorf("unknown transport %q", name)
	}
	if err := daemon.SaveConfig(cfg); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("%s %s. Restart the gateway for this to take effect.\n", name, state)
	return nil
}
