package main

import (
	"os"

	"github.com/adalundhe/hindsight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
