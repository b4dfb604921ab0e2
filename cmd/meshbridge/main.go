// Package main is the entry point for the meshbridge daemon.
package main

import (
	"os"

	"github.com/agentmesh/meshbridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
