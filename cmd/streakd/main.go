// Package main is the single-binary entrypoint for streakd, the daily
// engagement-state batch engine.
package main

import "github.com/tutu-network/streakd/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
