// Package main is the entry point for the metalineage CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/metalineage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
