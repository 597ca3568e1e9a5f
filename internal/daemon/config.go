// Package daemon manages the gateway's lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Stdio     StdioConfig     `toml:"stdio"`
	TCP       TCPConfig       `toml:"tcp"`
	UDP       UDPConfig       `toml:"udp"`
	HTTP      HTTPConfig      `toml:"http"`
	WebSocket WSConfig        `toml:"websocket"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Audit     AuditConfig     `toml:"audit"`
}

// NodeConfig identifies this gateway instance.
type NodeConfig struct {
	ID string `toml:"id"`
}

// StdioConfig controls the stdio transport.
type StdioConfig struct {
	Enabled bool `toml:"enabled"`
}

// TCPConfig controls the line-delimited TCP transport.
type TCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// UDPConfig controls the datagram transport.
type UDPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// HTTPConfig controls the poll-based HTTP transport.
type HTTPConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// WSConfig controls the WebSocket transport.
type WSConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// AuditConfig controls the SQLite invocation log.
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// DefaultConfig returns a sensible default configuration: stdio on,
// the network transports bound to localhost loopback ports.
func DefaultConfig() Config {
	home := gatewayHome()
	return Config{
		Node: NodeConfig{ID: uuid.NewString()},
		Stdio: StdioConfig{
			Enabled: true,
		},
		TCP: TCPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7301",
		},
		UDP: UDPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7302",
		},
		HTTP: HTTPConfig{
			Enabled:       true,
			Addr:          "127.0.0.1:7380",
			EnableMetrics: false,
		},
		WebSocket: WSConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7381",
			Path:    "/ws",
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Prometheus: false,
		},
		Audit: AuditConfig{
			Enabled: true,
			Dir:     filepath.Join(home, "audit"),
		},
	}
}

// LoadConfig reads config from ~/.infergate/config.toml, falling back to
// defaults when no file exists yet.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(gatewayHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Node.ID == "" {
		// A config.toml with a blank node.id still gets a unique node
		// identity, which Serve prints at startup.
		cfg.Node.ID = uuid.NewString()
	}
	return cfg, nil
}

// SaveConfig writes cfg to ~/.infergate/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(gatewayHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func gatewayHome() string {
	if env := os.Getenv("INFERGATE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".infergate")
}

// GatewayHome is exported for use by the CLI layer.
func GatewayHome() string {
	return gatewayHome()
}
