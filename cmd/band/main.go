package main

import (
	"os"

	"github.com/ciatc/band/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
