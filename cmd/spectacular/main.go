package main

import (
	"os"

	"github.com/arittr/spectacular-codex/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
