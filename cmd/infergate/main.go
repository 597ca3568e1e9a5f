// Package main is the single-binary entrypoint for infergate, a
// multi-transport JSON-RPC gateway to an on-device inference runtime.
package main

import "github.com/tutu-network/infergate/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
