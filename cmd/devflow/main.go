// Package main is the entry point for the devflow CLI.
package main

import "github.com/devflow-labs/devflow/internal/cli"

func main() {
	cli.Execute()
}
