// Package main is the entry point for the SokoFlow CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sokoflow/sokoflow/cmd/sokoflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
