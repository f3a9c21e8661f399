// Package main is the entry point for the relayclaw CLI.
package main

import (
	"os"

	"github.com/RelayClaw/RelayClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
