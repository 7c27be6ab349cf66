package main

import (
	"os"

	"github.com/engramlabs/engram/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
