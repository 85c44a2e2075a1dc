package main

import (
	"os"

	"mleschat/cmd/mleschat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
