package main

import (
	"os"

	"github.com/omerlv/chargelink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
