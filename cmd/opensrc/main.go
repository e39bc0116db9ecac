// Package main provides the entry point for the opensrc CLI.
package main

import (
	"os"

	"github.com/opensrc-dev/opensrc/cmd/opensrc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
