package main

import (
	"os"

	"github.com/vidcat/vidcat-stack/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
