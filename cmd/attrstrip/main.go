package main

import (
	"os"

	"github.com/coral-mesh/attrstrip/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
