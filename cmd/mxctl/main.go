package main

import (
	"os"

	"github.com/fastprodman/moneyexchange/cmd/mxctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
