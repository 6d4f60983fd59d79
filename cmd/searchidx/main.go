// Package main provides the entry point for the searchidx CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/searchidx/cmd/searchidx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
