package daemon

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Node.ID == "" {
		t.Error("Node.ID should not be empty")
	}
	if !cfg.Stdio.Enabled {
		t.Error("Stdio.Enabled = false, want true")
	}
	if cfg.TCP.Enabled {
		t.Error("TCP.Enabled = true, want false")
	}
	if cfg.TCP.Addr != "127.0.0.1:7301" {
		t.Errorf("TCP.Addr = %q, want %q", cfg.TCP.Addr, "127.0.0.1:7301")
	}
	if !cfg.HTTP.Enabled {
		t.Error("HTTP.Enabled = false, want true")
	}
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want %q", cfg.WebSocket.Path, "/ws")
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled = false, want true")
	}
}

func TestDefaultConfigGeneratesDistinctNodeIDs(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if a.Node.ID == b.Node.ID {
		t.Error("two DefaultConfig() calls produced the same Node.ID")
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("INFERGATE_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Node.ID == "" {
		t.Error("Node.ID should not be empty for a fresh config")
	}
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	t.Setenv("INFERGATE_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.TCP.Enabled = true
	cfg.TCP.Addr = "127.0.0.1:9999"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !got.TCP.Enabled || got.TCP.Addr != "127.0.0.1:9999" {
		t.Errorf("round-tripped TCP config = %+v, want enabled at 127.0.0.1:9999", got.TCP)
	}
	if got.Node.ID != cfg.Node.ID {
		t.Errorf("Node.ID = %q, want %q to survive the round trip", got.Node.ID, cfg.Node.ID)
	}
}

func TestGatewayHomeRespectsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INFERGATE_HOME", dir)
	if got := GatewayHome(); got != dir {
		t.Errorf("GatewayHome() = %q, want %q", got, dir)
	}
}

func TestGatewayHomeDefaultsUnderHomeDir(t *testing.T) {
	t.Setenv("INFERGATE_HOME", "")
	home := GatewayHome()
	if filepath.Base(home) != ".infergate" {
		t.Errorf("GatewayHome() = %q, want a path ending in .infergate", home)
	}
}
