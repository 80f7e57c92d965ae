package main

import (
	"os"

	"github.com/updraftio/updraft/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
