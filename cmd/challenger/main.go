package main

import (
	"os"

	"github.com/rustyeddy/challenger/cmd/challenger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
