// Package main is the single-binary entrypoint for LabelMint.
package main

import "github.com/labelmint/labelmint/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
