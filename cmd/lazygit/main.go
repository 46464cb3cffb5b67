package main

import (
	"os"

	"github.com/jmgilman/go/lazygit/cmd/lazygit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
