package main

import (
	"os"

	"github.com/davidmag854/fpg-trading/cmd/fpgtrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
