package main

import (
	"os"

	"github.com/nima-ghaffari/Transfer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
