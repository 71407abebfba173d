package main

import (
	"github.com/berrythewa/cliped-daemon/internal/cli"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime
	cli.Execute()
}
