// Package main provides the entry point for the portal CLI.
package main

import (
	"github.com/colthorp/portal-cache-go/internal/cli"
)

func main() {
	cli.Execute()
}
