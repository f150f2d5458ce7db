package main

import (
	"os"

	"github.com/rustyeddy/simex/cmd/simex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
