package main

import (
	"os"

	"github.com/MeKo-Tech/toraxia/cmd/toraxia/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
