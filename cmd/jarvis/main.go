package main

import (
	"os"

	"github.com/LluisCV99/jarvis/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
